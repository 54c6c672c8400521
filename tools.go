// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

//go:build tools

// Package main pins the ginkgo CLI used to run the web and integration
// suites, so `go run github.com/onsi/ginkgo/v2/ginkgo` matches go.mod.
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
)
