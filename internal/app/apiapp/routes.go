package apiapp

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/config"
	authsvc "github.com/ivankudzin/voxclip-safety/internal/services/auth"
	"github.com/ivankudzin/voxclip-safety/internal/transport/http/handlers"
)

type Dependencies struct {
	Safety     handlers.SafetyDependencies
	Moderation *handlers.ModerationHandler
	Admin      *handlers.AdminHandler
	Health     *handlers.HealthHandler
	JWT        *authsvc.JWTManager
	Logger     *zap.Logger
	Config     config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	safetyHandler := handlers.NewSafetyHandler(deps.Safety)
	moderationHandler := deps.Moderation
	adminHandler := deps.Admin
	internalMW := InternalTokenMiddleware(deps.Config.Admin.InternalToken)
	adminAuthMW := AdminAuthMiddleware(deps.JWT, deps.Logger)
	adminRoleMW := RequireRole(deps.Config.Admin.Roles...)

	r.Get("/healthz", deps.Health.Get)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/safety", func(r chi.Router) {
		r.Use(internalMW)
		r.Post("/inbound", safetyHandler.Inbound)
		r.Post("/rate-limit/ip", safetyHandler.RateLimitIP)
		r.Post("/rate-limit/subject", safetyHandler.RateLimitSubject)
		r.Get("/ip/{ip}/blacklisted", safetyHandler.Blacklisted)
		r.Post("/ip/pattern", safetyHandler.Pattern)
		r.Post("/farming/check", safetyHandler.FarmingCheck)
		r.Post("/activity", safetyHandler.Activity)
		r.Post("/reputation", safetyHandler.ReputationLog)
		r.Post("/reputation/admit", safetyHandler.ReputationAdmit)
		r.Post("/flags", moderationHandler.CreateFlag)
		r.Post("/reports", moderationHandler.CreateReport)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuthMW, adminRoleMW)

		r.Route("/moderation", func(r chi.Router) {
			r.Get("/queue", moderationHandler.Queue)
			r.Post("/escalate", moderationHandler.Escalate)
			r.Post("/{kind}/bulk", moderationHandler.BulkUpdate)
			r.Post("/{kind}/{id}/assign", moderationHandler.Assign)
			r.Post("/{kind}/{id}/state", moderationHandler.UpdateState)
			r.Post("/{kind}/{id}/notes", moderationHandler.Notes)
			r.Get("/{kind}/{id}/history", moderationHandler.History)
		})

		r.Get("/ip-blacklist", adminHandler.ListBlacklist)
		r.Post("/ip-blacklist", adminHandler.AddBlacklist)
		r.Delete("/ip-blacklist/{ip}", adminHandler.RemoveBlacklist)
		r.Get("/audit", adminHandler.Audit)
		r.Get("/safety/summary", adminHandler.SafetySummary)
		r.Get("/safety/top", adminHandler.SafetyTop)
	})
}
