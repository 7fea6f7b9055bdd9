package otpauth

import (
	"net/http"
	"strconv"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/goliatone/go-auth-otp/middleware/jwtware"
)

// RegisterOTPRoutes mounts the health check on app and the account API
// under /api/auth.
func RegisterOTPRoutes[T any](app router.Router[T], controller *Controller) {
	app.Get("/", controller.Health).SetName("health.get")

	api := app.Group(controller.Routes.Prefix)

	api.Post(controller.Routes.Register, controller.Register).
		SetName("auth.register.post")
	api.Post(controller.Routes.Verify, controller.Verify).
		SetName("auth.verify.post")
	api.Post(controller.Routes.Login, controller.Login).
		SetName("auth.login.post")

	bearer := controller.Bearer("")
	api.Patch(controller.Routes.EditProfile, controller.EditProfile, bearer).
		SetName("auth.profile.patch")
	api.Get(controller.Routes.Me, controller.Me, bearer).
		SetName("auth.me.get")
	api.Get(controller.Routes.ProfilePicture, controller.ProfilePicture, bearer).
		SetName("auth.picture.get")

	admin := controller.Bearer(RoleAdmin)
	api.Get(controller.Routes.Users, controller.ListUsers, admin).
		SetName("admin.users.list")
	api.Get(controller.Routes.User, controller.GetUser, admin).
		SetName("admin.users.get")
	api.Put(controller.Routes.User, controller.UpdateUser, admin).
		SetName("admin.users.put")
	api.Delete(controller.Routes.User, controller.DeleteUser, admin).
		SetName("admin.users.delete")
}

type ControllerRoutes struct {
	Prefix         string
	Register       string
	Verify         string
	Login          string
	EditProfile    string
	Me             string
	ProfilePicture string
	Users          string
	User           string
}

// Controller serves the JSON account API.
type Controller struct {
	Logger          Logger
	Registrar       *Registrar
	Repo            RepositoryManager
	Tokens          TokenService
	Routes          *ControllerRoutes
	ContextKey      string
	AuthScheme      string
	ExposeOTPErrors bool
	CommandOptions  []CommandOption

	updateProfile *UpdateProfileHandler
	adminUpdate   *AdminUpdateIdentityHandler
	adminDelete   *AdminDeleteIdentityHandler
}

type ControllerOption func(*Controller) *Controller

// WithControllerConfig applies the context key, auth scheme and OTP error
// exposure settings.
func WithControllerConfig(cfg Config) ControllerOption {
	return func(c *Controller) *Controller {
		if cfg == nil {
			return c
		}
		if key := cfg.GetContextKey(); key != "" {
			c.ContextKey = key
		}
		if scheme := cfg.GetAuthScheme(); scheme != "" {
			c.AuthScheme = scheme
		}
		c.ExposeOTPErrors = cfg.GetExposeOTPErrors()
		return c
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerCommandOptions forwards options to the identity commands.
func WithControllerCommandOptions(opts ...CommandOption) ControllerOption {
	return func(c *Controller) *Controller {
		c.CommandOptions = append(c.CommandOptions, opts...)
		return c
	}
}

// NewController panics when a collaborator is missing.
func NewController(registrar *Registrar, repo RepositoryManager, tokens TokenService, opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:     defLogger{},
		Registrar:  registrar,
		Repo:       repo,
		Tokens:     tokens,
		ContextKey: DefaultContextKey,
		AuthScheme: "Bearer",
		Routes: &ControllerRoutes{
			Prefix:         "/api/auth",
			Register:       "/register",
			Verify:         "/verify",
			Login:          "/login",
			EditProfile:    "/edit-profile",
			Me:             "/me",
			ProfilePicture: "/me/picture",
			Users:          "/users",
			User:           "/users/:id",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Registrar == nil {
		panic("Missing Registrar in otp auth controller...")
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in otp auth controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenService in otp auth controller...")
	}

	c.updateProfile = NewUpdateProfileHandler(c.Repo, c.CommandOptions...)
	c.adminUpdate = NewAdminUpdateIdentityHandler(c.Repo, c.CommandOptions...)
	c.adminDelete = NewAdminDeleteIdentityHandler(c.Repo, c.CommandOptions...)

	return c
}

// Bearer returns the token guard. A non empty role is required exactly.
func (c *Controller) Bearer(role UserRole) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ContextKey:      c.ContextKey,
		AuthScheme:      c.AuthScheme,
		TokenValidator:  TokenValidatorAdapter(c.Tokens),
		RequiredRole:    string(role),
		ContextEnricher: ContextEnricherAdapter,
		ErrorHandler:    BearerErrorHandler(c.Logger),
	})
}

func (c *Controller) Health(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, router.ViewContext{"message": "API is running"})
}

func (c *Controller) Register(ctx router.Context) error {
	var payload RegisterInput
	if err := ctx.Bind(&payload); err != nil {
		return c.fail(ctx, badRequest(err))
	}

	result, err := c.Registrar.Register(ctx.Context(), payload)
	if err != nil {
		return c.fail(ctx, err)
	}

	return writeJSON(ctx, http.StatusCreated, APIResponse{
		Message: "Verification code sent",
		Data:    result,
	})
}

type verifyPayload struct {
	Email string  `json:"email"`
	OTP   OTPCode `json:"otp"`
}

func (c *Controller) Verify(ctx router.Context) error {
	var payload verifyPayload
	if err := ctx.Bind(&payload); err != nil {
		return c.fail(ctx, badRequest(err))
	}

	summary, err := c.Registrar.Verify(ctx.Context(), payload.Email, payload.OTP.String())
	if err != nil {
		if !c.ExposeOTPErrors {
			err = collapseOTPError(err)
		}
		return c.fail(ctx, err)
	}

	return writeJSON(ctx, http.StatusOK, APIResponse{
		Message: "Email verified",
		Data:    summary,
	})
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Controller) Login(ctx router.Context) error {
	var payload loginPayload
	if err := ctx.Bind(&payload); err != nil {
		return c.fail(ctx, badRequest(err))
	}

	result, err := c.Registrar.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return c.fail(ctx, err)
	}

	return writeJSON(ctx, http.StatusOK, APIResponse{
		Message: "Login successful",
		Data:    result,
	})
}

func (c *Controller) EditProfile(ctx router.Context) error {
	id, err := c.callerIdentityID(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	var msg UpdateProfileMessage
	if err := ctx.Bind(&msg); err != nil {
		return c.fail(ctx, badRequest(err))
	}

	var summary *IdentitySummary
	msg.IdentityID = id
	msg.OnResponse = func(s *IdentitySummary) { summary = s }

	if err := c.updateProfile.Execute(ctx.Context(), msg); err != nil {
		return c.fail(ctx, err)
	}

	return writeJSON(ctx, http.StatusOK, APIResponse{
		Message: "User profile updated successfully",
		Data:    summary,
	})
}

func (c *Controller) Me(ctx router.Context) error {
	claims, _ := GetRouterClaims(ctx, c.ContextKey)
	if claims != nil && claims.UserID() == AdminSubject {
		return writeJSON(ctx, http.StatusOK, APIResponse{Data: c.Registrar.AdminSummary()})
	}

	id, err := c.callerIdentityID(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	identity, err := c.Repo.Identities().FindByID(ctx.Context(), id)
	if err != nil {
		return c.fail(ctx, err)
	}

	return writeJSON(ctx, http.StatusOK, APIResponse{Data: identity.Summary()})
}

func (c *Controller) ProfilePicture(ctx router.Context) error {
	id, err := c.callerIdentityID(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	identity, err := c.Repo.Identities().FindByID(ctx.Context(), id)
	if err != nil {
		return c.fail(ctx, err)
	}

	if len(identity.ProfilePicture) == 0 {
		return ctx.NoContent(http.StatusNoContent)
	}

	return ctx.SetHeader("Content-Type", identity.ProfilePictureType).
		Status(http.StatusOK).
		Send(identity.ProfilePicture)
}

func (c *Controller) ListUsers(ctx router.Context) error {
	opts := ListOptions{
		Limit:  ctx.QueryInt("limit", defaultListLimit),
		Offset: ctx.QueryInt("offset", 0),
	}

	records, total, err := c.Repo.Identities().List(ctx.Context(), opts)
	if err != nil {
		return c.fail(ctx, err)
	}

	summaries := make([]IdentitySummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, record.Summary())
	}

	return writeJSON(ctx, http.StatusOK, APIResponse{
		Data:  summaries,
		Total: &total,
	})
}

func (c *Controller) GetUser(ctx router.Context) error {
	id, err := pathIdentityID(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	identity, err := c.Repo.Identities().FindByID(ctx.Context(), id)
	if err != nil {
		return c.fail(ctx, err)
	}

	return writeJSON(ctx, http.StatusOK, APIResponse{Data: identity.Summary()})
}

func (c *Controller) UpdateUser(ctx router.Context) error {
	id, err := pathIdentityID(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	var msg AdminUpdateIdentityMessage
	if err := ctx.Bind(&msg); err != nil {
		return c.fail(ctx, badRequest(err))
	}

	var summary *IdentitySummary
	claims, _ := GetRouterClaims(ctx, c.ContextKey)
	msg.Actor = ActorFromClaims(claims)
	msg.IdentityID = id
	msg.OnResponse = func(s *IdentitySummary) { summary = s }

	if err := c.adminUpdate.Execute(ctx.Context(), msg); err != nil {
		return c.fail(ctx, err)
	}

	return writeJSON(ctx, http.StatusOK, APIResponse{
		Message: "User updated",
		Data:    summary,
	})
}

func (c *Controller) DeleteUser(ctx router.Context) error {
	id, err := pathIdentityID(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	claims, _ := GetRouterClaims(ctx, c.ContextKey)
	err = c.adminDelete.Execute(ctx.Context(), AdminDeleteIdentityMessage{
		Actor:      ActorFromClaims(claims),
		IdentityID: id,
	})
	if err != nil {
		return c.fail(ctx, err)
	}

	return writeJSON(ctx, http.StatusOK, APIResponse{
		Message: "User deleted",
		Data:    router.ViewContext{"id": id.String()},
	})
}

func (c *Controller) fail(ctx router.Context, err error) error {
	return WriteError(ctx, c.Logger, err)
}

// callerIdentityID resolves the stored identity behind the bearer token.
// The configured admin has none.
func (c *Controller) callerIdentityID(ctx router.Context) (uuid.UUID, error) {
	claims, ok := GetRouterClaims(ctx, c.ContextKey)
	if !ok {
		return uuid.Nil, ErrTokenMissing
	}
	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return uuid.Nil, ErrIdentityNotFound
	}
	return id, nil
}

func pathIdentityID(ctx router.Context) (uuid.UUID, error) {
	raw := ctx.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, goerrors.New("invalid identity id "+strconv.Quote(raw), goerrors.CategoryBadInput).
			WithTextCode(TextCodeInvalidInput).
			WithCode(goerrors.CodeBadRequest)
	}
	return id, nil
}

func badRequest(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed request body").
		WithTextCode(TextCodeInvalidInput).
		WithCode(goerrors.CodeBadRequest)
}
