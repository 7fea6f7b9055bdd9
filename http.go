package otpauth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-router"
)

// bodyLimit leaves room for a base64 encoded avatar.
const bodyLimit = 8 << 20

type httpServerOptions struct {
	appName    string
	requestLog bool
}

// HTTPServerOption customizes NewHTTPServer.
type HTTPServerOption func(*httpServerOptions)

// WithServerName sets the fiber app name.
func WithServerName(name string) HTTPServerOption {
	return func(o *httpServerOptions) {
		if name != "" {
			o.appName = name
		}
	}
}

// WithRequestLog enables fiber's access log.
func WithRequestLog(enabled bool) HTTPServerOption {
	return func(o *httpServerOptions) {
		o.requestLog = enabled
	}
}

// NewHTTPServer builds the fiber backed server with the API mounted.
func NewHTTPServer(controller *Controller, opts ...HTTPServerOption) router.Server[*fiber.App] {
	options := httpServerOptions{appName: "otpauth"}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		app := fiber.New(fiber.Config{
			AppName:               options.appName,
			DisableStartupMessage: true,
			BodyLimit:             bodyLimit,
		})
		app.Use(recover.New())
		app.Use(cors.New())
		if options.requestLog {
			app = router.DefaultFiberOptions(app)
		}
		return app
	})

	RegisterOTPRoutes(srv.Router(), controller)

	return srv
}
