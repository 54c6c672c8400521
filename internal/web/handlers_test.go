// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/pricepulse/pricepulse/internal/auth"
	"github.com/pricepulse/pricepulse/internal/web"
)

type recordedRequest struct {
	route  string
	status int
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeRecorder) RecordHTTPRequest(route string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{route: route, status: status})
}

func (f *fakeRecorder) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// brokenStore fails every operation with an internal cause that must never
// reach a client.
type brokenStore struct{}

var errDiskOnFire = errors.New("disk on fire at /var/lib/pricepulse")

func (brokenStore) Load(context.Context) ([]auth.User, error) {
	return nil, auth.StoreIOError("read users file", errDiskOnFire)
}

func (brokenStore) Save(context.Context, []auth.User) error {
	return auth.StoreIOError("write users file", errDiskOnFire)
}

func (brokenStore) Exists(context.Context, string) (bool, error) {
	return false, auth.StoreIOError("read users file", errDiskOnFire)
}

func (brokenStore) Update(context.Context, auth.UpdateFunc) error {
	return auth.StoreIOError("read users file", errDiskOnFire)
}

const tokenTTL = time.Hour

func newService(store auth.CredentialStore) *auth.Service {
	codec, err := auth.NewTokenCodec([]byte("web-test-secret"), tokenTTL)
	Expect(err).NotTo(HaveOccurred())
	svc, err := auth.NewService(store,
		auth.NewPBKDF2Hasher(auth.WithIterations(1000)),
		codec,
		auth.WithLogger(slog.New(slog.DiscardHandler)),
		auth.WithBootstrap(auth.Bootstrap{Username: "admin", Password: "admin"}),
	)
	Expect(err).NotTo(HaveOccurred())
	return svc
}

func newRouter(svc *auth.Service, opts web.Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.TokenTTL == 0 {
		opts.TokenTTL = tokenTTL
	}
	h, err := web.NewHandler(svc, opts)
	Expect(err).NotTo(HaveOccurred())
	return h.Routes()
}

func send(h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.DefaultCookieName {
			return c
		}
	}
	return nil
}

var _ = Describe("Handler", func() {
	var (
		router  http.Handler
		metrics *fakeRecorder
	)

	BeforeEach(func() {
		metrics = &fakeRecorder{}
		router = newRouter(newService(auth.NewMemoryStore()), web.Options{Metrics: metrics})
	})

	login := func(username, password string) *http.Cookie {
		rec := send(router, http.MethodPost, "/api/auth/login",
			`{"username":"`+username+`","password":"`+password+`"}`)
		Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())
		cookie := sessionCookie(rec)
		Expect(cookie).NotTo(BeNil())
		return cookie
	}

	Describe("NewHandler", func() {
		It("requires a service", func() {
			_, err := web.NewHandler(nil, web.Options{})
			Expect(err).To(MatchError(ContainSubstring("auth service is required")))
		})

		It("rejects a negative token TTL", func() {
			_, err := web.NewHandler(newService(auth.NewMemoryStore()), web.Options{TokenTTL: -time.Second})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GET /api/auth/status", func() {
		It("reports whether any user exists", func() {
			rec := send(router, http.MethodGet, "/api/auth/status", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(HaveKeyWithValue("hasUsers", false))

			send(router, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"pw"}`)

			rec = send(router, http.MethodGet, "/api/auth/status", "")
			Expect(decode(rec)).To(HaveKeyWithValue("hasUsers", true))
		})
	})

	Describe("POST /api/auth/register", func() {
		It("creates a user", func() {
			rec := send(router, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"pw"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(Equal(map[string]any{"ok": true}))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		})

		DescribeTable("rejects bad requests",
			func(body, wantErr string) {
				rec := send(router, http.MethodPost, "/api/auth/register", body)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(decode(rec)).To(Equal(map[string]any{"error": wantErr}))
			},
			Entry("missing password", `{"username":"alice"}`, "missing"),
			Entry("missing username", `{"password":"pw"}`, "missing"),
			Entry("malformed JSON", `{"username":`, "invalid request body"),
			Entry("trailing data", `{"username":"a","password":"b"} {}`, "invalid request body"),
			Entry("control character", `{"username":"al\u0000ice","password":"pw"}`, "invalid input"),
		)

		It("rejects a duplicate username", func() {
			send(router, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"pw"}`)
			rec := send(router, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"other"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)).To(HaveKeyWithValue("error", "user already exists"))
		})
	})

	Describe("POST /api/auth/login", func() {
		It("accepts the bootstrap pair on an empty store", func() {
			rec := send(router, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"admin"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(Equal(map[string]any{"ok": true, "hasUsers": true}))

			cookie := sessionCookie(rec)
			Expect(cookie).NotTo(BeNil())
			Expect(cookie.HttpOnly).To(BeTrue())
			Expect(cookie.Path).To(Equal("/"))
			Expect(cookie.SameSite).To(Equal(http.SameSiteLaxMode))
			Expect(cookie.MaxAge).To(Equal(int(tokenTTL.Seconds())))
			Expect(cookie.Value).To(ContainSubstring("."))
		})

		It("rejects other credentials on an empty store", func() {
			rec := send(router, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"pw"}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decode(rec)).To(Equal(map[string]any{"error": "invalid"}))
		})

		It("verifies registered users", func() {
			send(router, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"pw"}`)
			login("alice", "pw")

			rec := send(router, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong"}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(sessionCookie(rec)).To(BeNil())

			rec = send(router, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"admin"}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized), "bootstrap pair is only valid while empty")
		})

		It("requires both fields", func() {
			rec := send(router, http.MethodPost, "/api/auth/login", `{"username":"alice"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)).To(Equal(map[string]any{"error": "missing"}))
		})

		It("records the route pattern", func() {
			login("admin", "admin")
			Expect(metrics.last()).To(Equal(recordedRequest{route: "/api/auth/login", status: http.StatusOK}))
		})
	})

	Describe("POST /api/auth/logout", func() {
		It("expires the cookie without authentication", func() {
			rec := send(router, http.MethodPost, "/api/auth/logout", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(Equal(map[string]any{"ok": true}))
			Expect(rec.Header().Get("Set-Cookie")).To(And(
				ContainSubstring("session="),
				ContainSubstring("Max-Age=0"),
				ContainSubstring("Path=/"),
			))
		})
	})

	Describe("/api/auth/me", func() {
		It("requires a session", func() {
			rec := send(router, http.MethodGet, "/api/auth/me", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decode(rec)).To(Equal(map[string]any{"error": "unauthorized"}))

			rec = send(router, http.MethodGet, "/api/auth/me", "",
				&http.Cookie{Name: auth.DefaultCookieName, Value: "forged.token"})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("returns and merges the profile", func() {
			cookie := login("admin", "admin")

			rec := send(router, http.MethodGet, "/api/auth/me", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(Equal(map[string]any{"username": "admin", "profile": map[string]any{}}))

			rec = send(router, http.MethodPost, "/api/auth/me", `{"name":"Ada","email":"ada@example.com"}`, cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = send(router, http.MethodPost, "/api/auth/me", `{"contact":"+1 555"}`, cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = send(router, http.MethodGet, "/api/auth/me", "", cookie)
			Expect(decode(rec)).To(HaveKeyWithValue("profile", map[string]any{
				"name":    "Ada",
				"email":   "ada@example.com",
				"contact": "+1 555",
			}))
		})
	})

	Describe("POST /api/auth/change-password", func() {
		It("replaces the password", func() {
			cookie := login("admin", "admin")

			rec := send(router, http.MethodPost, "/api/auth/change-password", `{}`, cookie)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)).To(Equal(map[string]any{"error": "missing"}))

			rec = send(router, http.MethodPost, "/api/auth/change-password", `{"password":"n3w"}`, cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))

			login("admin", "n3w")
			rec = send(router, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"admin"}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects unauthenticated callers", func() {
			rec := send(router, http.MethodPost, "/api/auth/change-password", `{"password":"x"}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("store failures", func() {
		It("return a generic 500", func() {
			broken := newRouter(newService(brokenStore{}), web.Options{})

			for _, rec := range []*httptest.ResponseRecorder{
				send(broken, http.MethodGet, "/api/auth/status", ""),
				send(broken, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"pw"}`),
				send(broken, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"pw"}`),
			} {
				Expect(rec.Code).To(Equal(http.StatusInternalServerError))
				Expect(decode(rec)).To(Equal(map[string]any{"error": "internal error"}))
				Expect(rec.Body.String()).NotTo(ContainSubstring("disk"))
			}
		})
	})

	Describe("login throttling", func() {
		It("locks a username out after repeated failures", func() {
			router = newRouter(newService(auth.NewMemoryStore()), web.Options{
				Throttle: web.NewLoginThrottle(2, time.Minute),
			})
			send(router, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"pw"}`)

			for range 2 {
				rec := send(router, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"bad"}`)
				Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			}

			rec := send(router, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"pw"}`)
			Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
			Expect(rec.Header().Get("Retry-After")).NotTo(BeEmpty())

			rec = send(router, http.MethodPost, "/api/auth/register", `{"username":"bob","password":"pw"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			login("bob", "pw")
		})
	})

	Describe("parallel login guesses", func() {
		It("verify no more passwords than the failure budget", func() {
			router = newRouter(newService(auth.NewMemoryStore()), web.Options{
				Throttle: web.NewLoginThrottle(3, time.Minute),
			})
			send(router, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"pw"}`)

			const guesses = 30
			codes := make([]int, guesses)
			var wg sync.WaitGroup
			for i := range guesses {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					codes[i] = send(router, http.MethodPost, "/api/auth/login",
						`{"username":"alice","password":"guess"}`).Code
				}()
			}
			wg.Wait()

			counts := map[int]int{}
			for _, c := range codes {
				counts[c]++
			}
			Expect(counts[http.StatusUnauthorized]).To(Equal(3))
			Expect(counts[http.StatusTooManyRequests]).To(Equal(guesses - 3))
		})
	})

	Describe("middleware", func() {
		It("assigns a request ID", func() {
			rec := send(router, http.MethodGet, "/api/auth/status", "")
			Expect(rec.Header().Get("X-Request-ID")).To(HaveLen(26))
		})

		It("propagates a caller's request ID", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
			req.Header.Set("X-Request-ID", "trace-me")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Header().Get("X-Request-ID")).To(Equal("trace-me"))
		})

		It("answers unknown routes with JSON", func() {
			rec := send(router, http.MethodGet, "/api/auth/nope", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)).To(Equal(map[string]any{"error": "not found"}))
		})

		It("rejects the wrong method", func() {
			rec := send(router, http.MethodGet, "/api/auth/login", "")
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("allows configured CORS origins", func() {
			router = newRouter(newService(auth.NewMemoryStore()), web.Options{
				AllowedOrigins: []string{"https://app.example.com"},
			})
			req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
			req.Header.Set("Origin", "https://app.example.com")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://app.example.com"))
			Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(Equal("true"))
		})
	})
})
