package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"intentpay/internal/domain"
	"intentpay/internal/engine"
	"intentpay/internal/parser"
	"intentpay/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Parser   parser.Parser
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"insufficient_balance"`
	Message string         `json:"message" example:"insufficient available balance"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the IntentPay API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("IntentPay API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg.Engine)
	registerMerchants(group, cfg.Engine)
	registerIntents(group, cfg.Engine, cfg.Parser)
	registerPayments(group, cfg.Engine)
	registerAnalytics(group, cfg.Engine)
	registerEscrows(group, cfg.Engine)
	registerReputation(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInsufficientBalance):
		return newAPIError(http.StatusConflict, "insufficient_balance", err.Error(), nil)
	case errors.Is(err, engine.ErrIntentNotActive):
		return newAPIError(http.StatusConflict, "intent_not_active", err.Error(), nil)
	case errors.Is(err, engine.ErrIntentNotOwned):
		return newAPIError(http.StatusForbidden, "intent_not_owned", err.Error(), nil)
	case errors.Is(err, engine.ErrIntentConflict):
		return newAPIError(http.StatusConflict, "intent_conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrEscrowClosed):
		return newAPIError(http.StatusConflict, "escrow_closed", err.Error(), nil)
	case errors.Is(err, engine.ErrMilestoneCompleted):
		return newAPIError(http.StatusConflict, "milestone_completed", err.Error(), nil)
	case errors.Is(err, engine.ErrProofRequired):
		return newAPIError(http.StatusUnprocessableEntity, "proof_required", err.Error(), nil)
	case errors.Is(err, engine.ErrNoMilestones),
		errors.Is(err, engine.ErrUnknownEventKind),
		errors.Is(err, parser.ErrNoAmount):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>IntentPay API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.ui = SwaggerUIBundle({ url: %q, dom_id: "#swagger-ui" });
    </script>
  </body>
</html>`, specURL)
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	type userPath struct {
		UserID string `path:"user_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Wallet balances",
	}, func(ctx context.Context, input *userPath) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-summary",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/summary",
		Summary:     "Wallet dashboard summary",
	}, func(ctx context.Context, input *userPath) (*struct {
		Body engine.WalletSummary `json:"body"`
	}, error) {
		s, err := e.Summary(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WalletSummary `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-transactions",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/transactions",
		Summary:     "Transaction history",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Transaction `json:"body"`
	}, error) {
		items, err := e.Repo.ListTransactionsByUser(ctx, input.UserID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Transaction `json:"body"`
		}{Body: items}, nil
	})
}

func registerMerchants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-merchants",
		Method:      http.MethodGet,
		Path:        "/merchants",
		Summary:     "List merchant directory",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Merchant `json:"body"`
	}, error) {
		items, err := e.Repo.ListMerchants(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Merchant `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-merchant",
		Method:      http.MethodGet,
		Path:        "/merchants/{merchant_id}",
		Summary:     "Merchant detail",
	}, func(ctx context.Context, input *struct {
		MerchantID string `path:"merchant_id"`
	}) (*struct {
		Body domain.Merchant `json:"body"`
	}, error) {
		m, err := e.Repo.GetMerchant(ctx, input.MerchantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Merchant `json:"body"`
		}{Body: m}, nil
	})
}

func registerIntents(api huma.API, e engine.Engine, p parser.Parser) {
	huma.Register(api, huma.Operation{
		OperationID: "parse-intent",
		Method:      http.MethodPost,
		Path:        "/intents/parse",
		Summary:     "Preview the policy compiled from intent text",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ParseIntentRequest `json:"body"`
	}) (*struct {
		Body parser.Result `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Text) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		res, err := p.Parse(input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body parser.Result `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-intent",
		Method:        http.MethodPost,
		Path:          "/intents",
		Summary:       "Create intent and lock funds",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateIntentRequest `json:"body"`
	}) (*struct {
		Body domain.Intent `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pol := input.Body.Policy
		text := input.Body.Text
		if pol == nil {
			if strings.TrimSpace(text) == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "text or policy is required", nil)
			}
			res, err := p.Parse(text)
			if err != nil {
				return nil, handleError(err)
			}
			pol = &res.Policy
		}
		it, err := e.CreateIntent(ctx, input.Body.UserID, text, *pol, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Intent `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-intents",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/intents",
		Summary:     "List a user's intents",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body []domain.Intent `json:"body"`
	}, error) {
		items, err := e.Repo.ListIntentsByUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Intent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-intent",
		Method:      http.MethodGet,
		Path:        "/intents/{intent_id}",
		Summary:     "Intent detail",
	}, func(ctx context.Context, input *struct {
		IntentID string `path:"intent_id"`
	}) (*struct {
		Body domain.Intent `json:"body"`
	}, error) {
		it, err := e.GetIntent(ctx, input.IntentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Intent `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-intent",
		Method:      http.MethodPost,
		Path:        "/intents/{intent_id}/cancel",
		Summary:     "Cancel an active intent and unlock remaining funds",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		IntentID string `path:"intent_id"`
	}) (*struct {
		Body CancelIntentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		released, err := e.CancelIntent(ctx, input.IntentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		it, err := e.Repo.GetIntent(ctx, input.IntentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CancelIntentResponse `json:"body"`
		}{Body: CancelIntentResponse{Intent: it, Released: released}}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-payment",
		Method:      http.MethodPost,
		Path:        "/payments/validate",
		Summary:     "Validate and settle a payment against active intents",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body PaymentRequest `json:"body"`
	}) (*struct {
		Body engine.PaymentOutcome `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.UserID == "" || input.Body.MerchantID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id and merchant_id are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.ValidatePayment(ctx, engine.PaymentRequest{
			UserID:            input.Body.UserID,
			MerchantID:        input.Body.MerchantID,
			Amount:            input.Body.Amount,
			IntentID:          input.Body.IntentID,
			ProofProvided:     input.Body.ProofProvided,
			EmergencyOverride: input.Body.EmergencyOverride,
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PaymentOutcome `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-transaction",
		Method:      http.MethodGet,
		Path:        "/transactions/{transaction_id}",
		Summary:     "Transaction detail with the full pipeline trace",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TransactionID string `path:"transaction_id"`
	}) (*struct {
		Body domain.Transaction `json:"body"`
	}, error) {
		txn, err := e.Repo.GetTransaction(ctx, input.TransactionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Transaction `json:"body"`
		}{Body: txn}, nil
	})
}

func registerAnalytics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "system-summary",
		Method:      http.MethodGet,
		Path:        "/analytics/system",
		Summary:     "Platform-wide totals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SystemSummary `json:"body"`
	}, error) {
		s, err := e.SystemStats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SystemSummary `json:"body"`
		}{Body: s}, nil
	})
}

func registerEscrows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-escrow",
		Method:        http.MethodPost,
		Path:          "/escrows",
		Summary:       "Create an escrow with milestones",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateEscrowRequest `json:"body"`
	}) (*struct {
		Body domain.Escrow `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.CreateEscrow(ctx, input.Body.UserID, input.Body.Title, input.Body.IntentID,
			input.Body.Milestones, input.Body.DurationDays, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Escrow `json:"body"`
		}{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-escrows",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/escrows",
		Summary:     "List a user's escrows",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body []domain.Escrow `json:"body"`
	}, error) {
		items, err := e.Repo.ListEscrowsByUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Escrow `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-escrow",
		Method:      http.MethodGet,
		Path:        "/escrows/{escrow_id}",
		Summary:     "Escrow detail with milestones",
	}, func(ctx context.Context, input *struct {
		EscrowID string `path:"escrow_id"`
	}) (*struct {
		Body domain.Escrow `json:"body"`
	}, error) {
		esc, err := e.Repo.GetEscrow(ctx, input.EscrowID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Escrow `json:"body"`
		}{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-milestone",
		Method:      http.MethodPost,
		Path:        "/escrows/{escrow_id}/milestones/{milestone_id}/release",
		Summary:     "Release one milestone's funds",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		EscrowID    string                  `path:"escrow_id"`
		MilestoneID string                  `path:"milestone_id"`
		Body        ReleaseMilestoneRequest `json:"body"`
	}) (*struct {
		Body engine.ReleaseSummary `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sum, err := e.ReleaseMilestone(ctx, input.EscrowID, input.MilestoneID,
			input.Body.ProofProvided, input.Body.MerchantID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReleaseSummary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clawback-escrow",
		Method:      http.MethodPost,
		Path:        "/escrows/{escrow_id}/clawback",
		Summary:     "Claw back pending escrow funds",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EscrowID string          `path:"escrow_id"`
		Body     ClawbackRequest `json:"body"`
	}) (*struct {
		Body engine.ClawbackResult `json:"body"`
	}, error) {
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.InitiateClawback(ctx, input.EscrowID, input.Body.Reason, input.Body.Amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ClawbackResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerReputation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reputation-snapshot",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/reputation",
		Summary:     "Reputation score, tier and compliance stats",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body domain.ReputationSnapshot `json:"body"`
	}, error) {
		snap, err := e.ReputationSnapshot(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReputationSnapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-reputation-event",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/reputation/events",
		Summary:       "Record a reputation event",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string                 `path:"user_id"`
		Body   ReputationEventRequest `json:"body"`
	}) (*struct {
		Body domain.ReputationEvent `json:"body"`
	}, error) {
		if input.Body.Kind == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "kind is required", nil)
		}
		evt, err := e.RecordReputationEvent(ctx, input.UserID, input.Body.Kind, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReputationEvent `json:"body"`
		}{Body: evt}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/events",
		Summary:     "Audit event tail",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.AuditEvent `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.UserID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEvent `json:"body"`
		}{Body: items}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, userID)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
