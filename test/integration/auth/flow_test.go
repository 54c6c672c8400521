// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

//go:build integration

package auth_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/pricepulse/pricepulse/internal/auth"
	"github.com/pricepulse/pricepulse/internal/auth/postgres"
	"github.com/pricepulse/pricepulse/internal/store"
	"github.com/pricepulse/pricepulse/internal/web"
)

// startServer runs the web layer on its own pool so two servers behave like
// two processes sharing one database.
func startServer() *httptest.Server {
	pool, err := store.Connect(env.ctx, env.connStr, store.ConnectOptions{})
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(pool.Close)

	codec, err := auth.NewTokenCodec([]byte("integration-secret"), time.Hour)
	Expect(err).NotTo(HaveOccurred())

	svc, err := auth.NewService(postgres.NewCredentialStore(pool),
		auth.NewPBKDF2Hasher(auth.WithIterations(1000)),
		codec,
		auth.WithLogger(slog.New(slog.DiscardHandler)),
		auth.WithBootstrap(auth.Bootstrap{Username: "admin", Password: "admin"}),
	)
	Expect(err).NotTo(HaveOccurred())

	h, err := web.NewHandler(svc, web.Options{
		Logger:   slog.New(slog.DiscardHandler),
		Throttle: web.NewLoginThrottle(3, time.Minute),
		TokenTTL: time.Hour,
	})
	Expect(err).NotTo(HaveOccurred())

	srv := httptest.NewServer(h.Routes())
	DeferCleanup(srv.Close)
	return srv
}

func newClient() *http.Client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func call(client *http.Client, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	req, err := http.NewRequestWithContext(env.ctx, method, srv.URL+path, strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

var _ = Describe("Authentication against PostgreSQL", func() {
	var srv *httptest.Server

	BeforeEach(func() {
		env.truncate()
		srv = startServer()
	})

	It("bootstraps the first user and then closes the exception", func() {
		client := newClient()

		status, body := call(client, srv, http.MethodGet, "/api/auth/status", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("hasUsers", false))

		status, _ = call(client, srv, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"admin"}`)
		Expect(status).To(Equal(http.StatusOK))

		status, body = call(client, srv, http.MethodGet, "/api/auth/me", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("username", "admin"))

		status, _ = call(client, srv, http.MethodPost, "/api/auth/change-password", `{"password":"s3cret"}`)
		Expect(status).To(Equal(http.StatusOK))

		status, _ = call(newClient(), srv, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"admin"}`)
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("runs the register, login, profile and logout flow", func() {
		client := newClient()

		status, _ := call(client, srv, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"hunter2"}`)
		Expect(status).To(Equal(http.StatusOK))

		status, body := call(client, srv, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrongpass"}`)
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body).To(HaveKeyWithValue("error", "invalid"))

		status, _ = call(client, srv, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"hunter2"}`)
		Expect(status).To(Equal(http.StatusOK))

		status, _ = call(client, srv, http.MethodPost, "/api/auth/me", `{"name":"Alice","email":"alice@example.com"}`)
		Expect(status).To(Equal(http.StatusOK))

		status, body = call(client, srv, http.MethodGet, "/api/auth/me", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["profile"]).To(And(
			HaveKeyWithValue("name", "Alice"),
			HaveKeyWithValue("email", "alice@example.com"),
		))

		status, _ = call(client, srv, http.MethodPost, "/api/auth/logout", "")
		Expect(status).To(Equal(http.StatusOK))

		status, _ = call(client, srv, http.MethodGet, "/api/auth/me", "")
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("accepts a session issued by another server sharing the secret", func() {
		client := newClient()
		other := startServer()

		status, _ := call(client, srv, http.MethodPost, "/api/auth/register", `{"username":"bob","password":"pw"}`)
		Expect(status).To(Equal(http.StatusOK))
		status, _ = call(client, srv, http.MethodPost, "/api/auth/login", `{"username":"bob","password":"pw"}`)
		Expect(status).To(Equal(http.StatusOK))

		// The jar is keyed by host, and both servers listen on 127.0.0.1.
		status, body := call(client, other, http.MethodGet, "/api/auth/me", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("username", "bob"))
	})

	It("lets exactly one concurrent registration win across servers", func() {
		servers := []*httptest.Server{srv, startServer()}

		const attempts = 8
		statuses := make([]int, attempts)
		var wg sync.WaitGroup
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				statuses[i], _ = call(newClient(), servers[i%2], http.MethodPost,
					"/api/auth/register", `{"username":"shared","password":"pw"}`)
			}()
		}
		wg.Wait()

		Expect(statuses).To(ContainElement(http.StatusOK))
		ok := 0
		for _, s := range statuses {
			if s == http.StatusOK {
				ok++
			} else {
				Expect(s).To(Equal(http.StatusBadRequest))
			}
		}
		Expect(ok).To(Equal(1))
	})

	It("throttles repeated failures for one username", func() {
		client := newClient()
		status, _ := call(client, srv, http.MethodPost, "/api/auth/register", `{"username":"carol","password":"right"}`)
		Expect(status).To(Equal(http.StatusOK))

		for range 3 {
			status, _ = call(client, srv, http.MethodPost, "/api/auth/login", `{"username":"carol","password":"wrong"}`)
			Expect(status).To(Equal(http.StatusUnauthorized))
		}

		status, body := call(client, srv, http.MethodPost, "/api/auth/login", `{"username":"carol","password":"right"}`)
		Expect(status).To(Equal(http.StatusTooManyRequests))
		Expect(body).To(HaveKeyWithValue("error", "too many attempts"))
	})
})
