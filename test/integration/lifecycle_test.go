// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

//go:build integration

package integration

import (
	"context"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gatekeep/gatekeep/internal/auth"
	gkgrpc "github.com/gatekeep/gatekeep/internal/grpc"
)

const adaEmail = "ada@example.com"

func register(email, password string) {
	code, out := call(http.MethodPost, "/auth/register",
		`{"fullName":"Ada Lovelace","email":"`+email+`","password":"`+password+`"}`, "")
	Expect(code).To(Equal(http.StatusCreated), out.Message)
}

func registerAndVerify(email, password string) {
	register(email, password)
	code, _ := call(http.MethodGet, env.mailbox.latestPath(email, auth.SubjectVerifyEmail, 1), "", "")
	Expect(code).To(Equal(http.StatusOK))
}

func login(email, password string) (int, envelope) {
	return call(http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+password+`"}`, "")
}

var _ = Describe("Credential lifecycle", func() {
	BeforeEach(func() {
		env.cleanup()
	})

	It("registers, verifies, logs in and reads the profile", func() {
		register(adaEmail, "first-pass")

		code, out := login(adaEmail, "first-pass")
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(out.Message).To(Equal(auth.MsgEmailNotVerified))

		verifyPath := env.mailbox.latestPath(adaEmail, auth.SubjectVerifyEmail, 1)
		code, out = call(http.MethodGet, verifyPath, "", "")
		Expect(code).To(Equal(http.StatusOK))
		Expect(out.Message).To(Equal(auth.MsgEmailVerified))

		code, _ = call(http.MethodGet, verifyPath, "", "")
		Expect(code).To(Equal(http.StatusNotFound), "verification links are single use")

		code, out = login(adaEmail, "first-pass")
		Expect(code).To(Equal(http.StatusOK))
		Expect(out.AccessToken).NotTo(BeEmpty())

		code, out = call(http.MethodGet, "/auth/profile", "", out.AccessToken)
		Expect(code).To(Equal(http.StatusOK))
		Expect(out.UserDetails).NotTo(BeNil())
		Expect(out.UserDetails.Email).To(Equal(adaEmail))
		Expect(out.UserDetails.FullName).To(Equal("Ada Lovelace"))
	})

	It("rejects a second registration for the same email", func() {
		register(adaEmail, "first-pass")

		code, out := call(http.MethodPost, "/auth/register",
			`{"fullName":"Someone Else","email":"`+adaEmail+`","password":"other"}`, "")
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(out.Message).To(Equal(auth.MsgDuplicateEmail))
	})

	It("resets a password with a single-use link", func() {
		registerAndVerify(adaEmail, "first-pass")

		code, _ := call(http.MethodPost, "/auth/forgot-password", `{"email":"`+adaEmail+`"}`, "")
		Expect(code).To(Equal(http.StatusOK))
		resetPath := env.mailbox.latestPath(adaEmail, auth.SubjectResetPassword, 1)

		code, out := call(http.MethodPost, resetPath, `{"newPassword":"second-pass"}`, "")
		Expect(code).To(Equal(http.StatusOK))
		Expect(out.Message).To(Equal(auth.MsgPasswordReset))

		code, _ = call(http.MethodPost, resetPath, `{"newPassword":"third-pass"}`, "")
		Expect(code).To(Equal(http.StatusNotFound))

		code, _ = login(adaEmail, "first-pass")
		Expect(code).To(Equal(http.StatusBadRequest))
		code, _ = login(adaEmail, "second-pass")
		Expect(code).To(Equal(http.StatusOK))
	})

	It("reports an unknown email on forgot-password", func() {
		code, out := call(http.MethodPost, "/auth/forget-password", `{"email":"nobody@example.com"}`, "")
		Expect(code).To(Equal(http.StatusNotFound))
		Expect(out.Message).To(Equal("Email not found"))
	})

	It("keeps earlier reset links valid until one is used", func() {
		registerAndVerify(adaEmail, "first-pass")

		for range 2 {
			code, _ := call(http.MethodPost, "/auth/forgot-password", `{"email":"`+adaEmail+`"}`, "")
			Expect(code).To(Equal(http.StatusOK))
		}
		Eventually(func() int { return env.mailbox.count(adaEmail, auth.SubjectResetPassword) }, "5s").Should(Equal(2))
		env.mailbox.mu.Lock()
		links := append([]string(nil), env.mailbox.links[adaEmail+"|"+auth.SubjectResetPassword]...)
		env.mailbox.mu.Unlock()
		Expect(links[0]).NotTo(Equal(links[1]))

		Expect(env.svc.ResetPassword(env.ctx, lastSegment(links[0]), "second-pass")).To(Succeed())
		Expect(env.svc.ResetPassword(env.ctx, lastSegment(links[1]), "third-pass")).To(Succeed())

		_, err := env.svc.Login(env.ctx, adaEmail, "third-pass")
		Expect(err).NotTo(HaveOccurred())
	})

	It("lets exactly one concurrent reset win with the same token", func() {
		registerAndVerify(adaEmail, "first-pass")
		code, _ := call(http.MethodPost, "/auth/forgot-password", `{"email":"`+adaEmail+`"}`, "")
		Expect(code).To(Equal(http.StatusOK))
		token := lastSegment(env.mailbox.latestPath(adaEmail, auth.SubjectResetPassword, 1))

		const racers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			wins     int
			notFound int
		)
		for range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				err := env.svc.ResetPassword(context.Background(), token, "racer-pass")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case auth.ErrorCode(err) == auth.CodeTokenNotFound:
					notFound++
				default:
					Fail("unexpected reset error: " + err.Error())
				}
			}()
		}
		wg.Wait()

		Expect(wins).To(Equal(1))
		Expect(notFound).To(Equal(racers - 1))
	})

	It("rejects a tampered session credential", func() {
		registerAndVerify(adaEmail, "first-pass")
		_, out := login(adaEmail, "first-pass")

		code, res := call(http.MethodGet, "/auth/profile", "", out.AccessToken+"x")
		Expect(code).To(Equal(http.StatusUnauthorized))
		Expect(res.Message).To(Equal(auth.MsgInvalidCredential))

		code, res = call(http.MethodGet, "/auth/profile", "", "")
		Expect(code).To(Equal(http.StatusUnauthorized))
		Expect(res.Message).To(Equal(auth.MsgMissingCredential))
	})

	It("records operation outcomes", func() {
		before := testutil.ToFloat64(env.metrics.OperationsTotal.WithLabelValues(auth.OpRegister, "ok"))
		register(adaEmail, "first-pass")
		Expect(testutil.ToFloat64(env.metrics.OperationsTotal.WithLabelValues(auth.OpRegister, "ok"))).
			To(Equal(before + 1))
	})
})

var _ = Describe("gRPC listener", func() {
	It("serves health checks without a credential", func() {
		client, err := gkgrpc.NewClient(gkgrpc.ClientConfig{Address: env.grpcAddr})
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = client.Close() }()

		ctx, cancel := context.WithTimeout(env.ctx, 5*time.Second)
		defer cancel()
		Expect(client.Healthy(ctx)).To(BeTrue())
	})

	It("resolves the caller's profile from a login credential", func() {
		env.cleanup()
		registerAndVerify(adaEmail, "first-pass")
		_, out := login(adaEmail, "first-pass")

		client, err := gkgrpc.NewClient(gkgrpc.ClientConfig{Address: env.grpcAddr, Bearer: out.AccessToken})
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = client.Close() }()

		ctx, cancel := context.WithTimeout(env.ctx, 5*time.Second)
		defer cancel()
		profile, err := client.Profile(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(profile.Email).To(Equal(adaEmail))
		Expect(profile.UserID).To(Equal(out.UserDetails.UserID))
	})

	It("rejects a profile call without a credential", func() {
		client, err := gkgrpc.NewClient(gkgrpc.ClientConfig{Address: env.grpcAddr})
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = client.Close() }()

		ctx, cancel := context.WithTimeout(env.ctx, 5*time.Second)
		defer cancel()
		_, err = client.Profile(ctx)
		Expect(status.Code(err)).To(Equal(codes.Unauthenticated))
	})
})

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
