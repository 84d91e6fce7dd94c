package server

import "net/http"

const webhookMaxBodySize = 64 << 10

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	authenticated := AuthMiddleware(s.deps.Sessions, s.deps.Accounts)
	sizeLimit := RequestSizeLimitMiddleware(s.config.MaxBodyBytes)

	mux.Handle("/health", chain(
		http.HandlerFunc(s.handleHealth),
		LoggingMiddleware,
	))

	mux.Handle("/auth/iframe-login", chain(
		http.HandlerFunc(s.handleIframeLogin),
		LoggingMiddleware,
		sizeLimit,
	))

	mux.Handle("/auth/refresh", chain(
		http.HandlerFunc(s.handleRefresh),
		LoggingMiddleware,
		authenticated,
	))

	mux.Handle("/auth/fub/connect", chain(
		http.HandlerFunc(s.handleFUBConnect),
		LoggingMiddleware,
		authenticated,
	))

	mux.Handle("/auth/fub/callback", chain(
		http.HandlerFunc(s.handleFUBCallback),
		LoggingMiddleware,
	))

	mux.Handle("/chat", chain(
		http.HandlerFunc(s.handleChat),
		LoggingMiddleware,
		authenticated,
		sizeLimit,
	))

	mux.Handle("/fub/note", chain(
		http.HandlerFunc(s.handleCreateNote),
		LoggingMiddleware,
		authenticated,
		sizeLimit,
	))

	mux.Handle("/stripe/webhook", chain(
		http.HandlerFunc(s.handleStripeWebhook),
		LoggingMiddleware,
		RequestSizeLimitMiddleware(webhookMaxBodySize),
	))

	mux.Handle("/billing/checkout", chain(
		http.HandlerFunc(s.handleCheckout),
		LoggingMiddleware,
		authenticated,
	))

	mux.Handle("/billing/portal", chain(
		http.HandlerFunc(s.handlePortal),
		LoggingMiddleware,
		authenticated,
	))

	return mux
}

func chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}
