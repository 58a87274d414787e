package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/api/swagger"
	"github.com/noah-isme/trainer-marketplace-api/internal/handler"
	"github.com/noah-isme/trainer-marketplace-api/internal/middleware"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/internal/service"
	"github.com/noah-isme/trainer-marketplace-api/pkg/config"
	"github.com/noah-isme/trainer-marketplace-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/trainer-marketplace-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/trainer-marketplace-api/pkg/middleware/requestid"
)

type routeDeps struct {
	tokens      middleware.TokenValidator
	auditWriter middleware.AuditWriter
	metrics     *service.MetricsService

	auth         *handler.AuthHandler
	allocation   *handler.AllocationHandler
	schedule     *handler.ScheduleHandler
	enrollment   *handler.EnrollmentHandler
	course       *handler.CourseHandler
	availability *handler.AvailabilityHandler
	demo         *handler.DemoHandler
	realtime     *handler.RealtimeHandler
	observe      *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.observe.Health)
	r.GET("/ready", deps.observe.Ready)
	r.GET("/metrics", deps.observe.Prometheus)

	if !cfg.IsProduction() {
		swagger.SwaggerInfo.BasePath = cfg.APIPrefix
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", deps.auth.Login)
	api.GET("/ws", deps.realtime.Connect)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.tokens), middleware.WithResponseMeta())

	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.auditWriter, logr, action, resource)
	}
	admin := middleware.RequireRoles(models.RoleAdmin)
	trainer := middleware.RequireRoles(models.RoleTrainer)
	trainerOrAdmin := middleware.RequireRoles(models.RoleTrainer, models.RoleAdmin)
	studentOrAdmin := middleware.RequireRoles(models.RoleStudent, models.RoleAdmin)

	secured.GET("/auth/me", deps.auth.Me)

	secured.GET("/courses/:id", deps.course.Get)
	secured.GET("/courses/:id/classes", deps.course.ListClasses)

	secured.GET("/available-trainers", deps.availability.AvailableTrainers)
	secured.GET("/trainers/:id/availability", deps.availability.Get)
	secured.PUT("/trainers/:id/availability", trainerOrAdmin, audit(models.AuditActionSetAvailability, "trainer_availability"), deps.availability.Set)

	secured.POST("/trainer/allocate-class", trainer, audit(models.AuditActionAllocate, "class_schedule"), deps.allocation.Allocate)
	secured.POST("/trainer/bulk-allocate-classes", trainer, audit(models.AuditActionBulkAllocate, "class_schedule"), deps.allocation.BulkAllocate)

	secured.POST("/enrollments/verify-payment", studentOrAdmin, deps.enrollment.VerifyPayment)
	secured.GET("/enrollments", admin, deps.enrollment.List)
	secured.GET("/enrollments/:id", deps.enrollment.Get)
	secured.PUT("/enrollments/:id/assign-trainer", admin, deps.enrollment.AssignTrainer)
	secured.POST("/enrollments/:id/cancel", admin, deps.enrollment.Cancel)
	secured.GET("/student/:studentId/enrolled-classes", deps.enrollment.StudentCourses)
	secured.GET("/student/:studentId/trainers", studentOrAdmin, deps.enrollment.StudentTrainers)
	secured.GET("/trainer/:trainerId/students", trainerOrAdmin, deps.enrollment.TrainerStudents)

	secured.POST("/demo-requests", studentOrAdmin, deps.demo.Request)
	secured.GET("/demo-requests", admin, deps.demo.ListRequests)
	secured.GET("/demo-requests/student/:studentId", deps.demo.StudentRequests)
	secured.GET("/demo-requests/trainer/:trainerId", deps.demo.TrainerRequests)
	secured.PUT("/demo-requests/:id/approve", admin, audit(models.AuditActionDemoApprove, "demo_request"), deps.demo.Approve)
	secured.PUT("/demo-requests/:id/reject", admin, audit(models.AuditActionDemoReject, "demo_request"), deps.demo.Reject)
	secured.GET("/demo-sessions", deps.demo.ListSessions)
	secured.PUT("/demo-sessions/:id", trainerOrAdmin, audit(models.AuditActionDemoUpdate, "demo_session"), deps.demo.UpdateSession)

	secured.GET("/schedules/export", deps.schedule.Export)
	secured.GET("/schedules/student/:id", deps.schedule.ListByStudent)
	secured.GET("/schedules/trainer/:id", deps.schedule.ListByTrainer)
	secured.GET("/schedule/:id", deps.schedule.Get)
	secured.PUT("/schedule/:id", audit(models.AuditActionScheduleUpdate, "class_schedule"), deps.schedule.Update)
	secured.DELETE("/schedule/:id", trainer, audit(models.AuditActionScheduleDelete, "class_schedule"), deps.schedule.Delete)

	secured.GET("/metrics/summary", admin, deps.observe.Summary)

	return r
}
