package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/referral"
	"github.com/classhour/backend/core/user"
)

type referralApi struct {
	svc      *referral.Service
	userSvc  *user.Service
	validate *validator.Validate
}

func registerReferralAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := referralApi{
		svc:      opts.ReferralSvc,
		userSvc:  opts.UserSvc,
		validate: opts.Validate,
	}

	rg := g.Group("/referrals", jwt)
	rg.POST("", api.create)
	rg.GET("/mine", api.mine)
	rg.POST("/claim", api.claim, roleMiddleware(user.RoleStudent))
}

// Handlers

func (api *referralApi) create(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	ref, err := api.svc.CreateCode(ctx.Request().Context(), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating referral code")
	}
	return ctx.JSON(http.StatusCreated, ref)
}

func (api *referralApi) mine(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	refs, err := api.svc.ForReferrer(ctx.Request().Context(), ctxUsr.ID)
	if err != nil {
		return errors.Wrap(err, "listing referrals")
	}
	if refs == nil {
		refs = []referral.Referral{}
	}
	return ctx.JSON(http.StatusOK, refs)
}

func (api *referralApi) claim(ctx echo.Context) error {
	var data ClaimReferralRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClaimReferralRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	ref, err := api.svc.Claim(ctx.Request().Context(), data.Code, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "claiming referral code")
	}
	return ctx.JSON(http.StatusOK, ref)
}

type ClaimReferralRequest struct {
	Code string `json:"code" validate:"required"`
}

func (cr *ClaimReferralRequest) Validate(validate *validator.Validate) error {
	cr.Code = core.CleanString(cr.Code, true /* lower */)
	return validate.Struct(cr)
}
