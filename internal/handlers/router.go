package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

type Router struct {
	Users    *UserHandler
	Files    *FileHandler
	Payments *PaymentHandler
	Webhooks *WebhookHandler
	Auth     *Authenticator
	// WebhookLimiter guards the public webhook endpoint.
	WebhookLimiter *RateLimiter
	// PublicLimiter guards registration and login.
	PublicLimiter *RateLimiter
	Log           *slog.Logger
}

func (rt Router) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(RequestLogger(rt.Log))

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")

	authed := rt.Auth.RequireAuth
	admin := rt.Auth.RequireAdmin
	public := rt.PublicLimiter.Middleware

	router.Handle("/api/user", public(http.HandlerFunc(rt.Users.CreateUser))).Methods("POST")
	router.Handle("/api/login", public(http.HandlerFunc(rt.Users.Login))).Methods("POST")
	router.Handle("/api/user/payout-destination", authed(http.HandlerFunc(rt.Users.SetPayoutDestination))).Methods("PUT")

	router.Handle("/api/files", authed(http.HandlerFunc(rt.Files.CreateFile))).Methods("POST")
	router.HandleFunc("/api/files/{fileID}", rt.Files.GetFile).Methods("GET")
	router.Handle("/api/files/{fileID}/access", authed(http.HandlerFunc(rt.Files.Access))).Methods("GET")
	router.Handle("/api/files/{fileID}/download", authed(http.HandlerFunc(rt.Files.Download))).Methods("GET")

	router.Handle("/api/orders", authed(http.HandlerFunc(rt.Payments.CreateOrder))).Methods("POST")
	router.Handle("/api/orders/{orderToken}/status", authed(http.HandlerFunc(rt.Payments.Status))).Methods("GET")
	router.Handle("/api/payments", authed(http.HandlerFunc(rt.Payments.History))).Methods("GET")
	router.Handle("/api/payment/webhook", rt.WebhookLimiter.Middleware(http.HandlerFunc(rt.Webhooks.Webhook))).Methods("POST")

	router.Handle("/api/admin/payments/{id}/refund", admin(http.HandlerFunc(rt.Payments.Refund))).Methods("POST")
	router.Handle("/api/admin/webhook-events", admin(http.HandlerFunc(rt.Payments.WebhookEvents))).Methods("GET")

	return router
}
