// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	. "github.com/onsi/gomega" //nolint:revive // gomega convention
)

// mailbox is a notify.Sender that remembers the link in each delivered message.
type mailbox struct {
	mu    sync.Mutex
	links map[string][]string // "to|subject" -> links in delivery order
}

func newMailbox() *mailbox {
	return &mailbox{links: map[string][]string{}}
}

func (m *mailbox) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") {
			m.links[to+"|"+subject] = append(m.links[to+"|"+subject], line)
		}
	}
	return nil
}

func (m *mailbox) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = map[string][]string{}
}

func (m *mailbox) count(to, subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links[to+"|"+subject])
}

// latestPath waits for a message and returns the path of its newest link.
func (m *mailbox) latestPath(to, subject string, atLeast int) string {
	Eventually(func() int { return m.count(to, subject) }, "5s", "20ms").Should(BeNumerically(">=", atLeast))
	m.mu.Lock()
	defer m.mu.Unlock()
	links := m.links[to+"|"+subject]
	u, err := url.Parse(links[len(links)-1])
	Expect(err).NotTo(HaveOccurred())
	return u.Path
}

type envelope struct {
	IsSuccessful bool   `json:"isSuccessful"`
	Message      string `json:"message"`
	AccessToken  string `json:"accessToken"`
	UserDetails  *struct {
		UserID   string `json:"userId"`
		FullName string `json:"fullName"`
		Email    string `json:"email"`
	} `json:"userDetails"`
}

// call performs one JSON request against the running API.
func call(method, path, body, bearer string) (int, envelope) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.http.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := env.http.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = res.Body.Close() }()

	var out envelope
	Expect(json.NewDecoder(res.Body).Decode(&out)).To(Succeed())
	return res.StatusCode, out
}
