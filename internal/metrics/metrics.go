package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resultados usados como label "result".
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Registration attempts by result",
		},
		[]string{"result"},
	)

	OTPIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_otp_issued_total",
			Help: "Password reset codes issued",
		},
	)

	OTPDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_deliveries_total",
			Help: "Password reset code deliveries by result",
		},
		[]string{"result"},
	)

	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_password_resets_total",
			Help: "Password reset completions by result",
		},
		[]string{"result"},
	)

	OTPSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_otp_swept_total",
			Help: "Expired password reset codes cleared by the sweeper",
		},
	)
)
