package main

import (
	"net/http"

	"github.com/aeroleaf/backend/internal/auth"
	"github.com/aeroleaf/backend/internal/handlers"
	"github.com/aeroleaf/backend/internal/middleware"
	"github.com/aeroleaf/backend/internal/models"
)

// registerRoutes wires the public API. Middleware chain on protected
// routes: Authenticate -> (RequireRole where noted) -> handler.
func registerRoutes(
	mux *http.ServeMux,
	authSvc auth.Service,
	authHandler *auth.Handler,
	market *handlers.MarketplaceHandler,
	credits *handlers.CreditHandler,
) {
	authed := middleware.Authenticate(authSvc)
	verifierOnly := middleware.RequireRole(models.RoleVerifier)
	minters := middleware.RequireRole(models.RoleLandowner, models.RoleVerifier)

	// Auth
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Marketplace
	mux.HandleFunc("GET /api/marketplace/listings", market.ListListings)
	mux.Handle("POST /api/marketplace/list", authed(http.HandlerFunc(market.CreateListing)))
	mux.Handle("POST /api/marketplace/buy", authed(http.HandlerFunc(market.Buy)))
	mux.Handle("POST /api/marketplace/bid", authed(http.HandlerFunc(market.Bid)))
	mux.Handle("POST /api/marketplace/cancel", authed(http.HandlerFunc(market.Cancel)))

	// Credits
	mux.Handle("POST /api/credits/mint", authed(minters(http.HandlerFunc(credits.Mint))))
	mux.Handle("POST /api/credits/buy", authed(http.HandlerFunc(credits.Buy)))
	mux.Handle("POST /api/credits/transfer", authed(http.HandlerFunc(credits.Transfer)))
	mux.Handle("POST /api/credits/{id}/retire", authed(http.HandlerFunc(credits.Retire)))
	mux.Handle("POST /api/credits/{id}/verify", authed(verifierOnly(http.HandlerFunc(credits.Verify))))
	mux.HandleFunc("GET /api/credits/list", credits.List)
	mux.Handle("GET /api/credits/user-credits", authed(http.HandlerFunc(credits.UserCredits)))
	mux.HandleFunc("GET /api/credits/{id}", credits.Get)
}
