package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"callguard/internal/amd"
	"callguard/internal/auth"
	"callguard/internal/calls"
	"callguard/internal/reporting"
	"callguard/internal/telephony"
	"callguard/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// StrategyResolver picks the AMD strategy to run for a new call.
type StrategyResolver interface {
	Resolve(ctx context.Context, requested calls.Strategy) calls.Strategy
}

type Handlers struct {
	Store       calls.Store
	Gateway     telephony.Gateway
	Selector    StrategyResolver
	Coordinator *amd.Coordinator
	Slots       amd.CallSlots
	Reports     *reporting.Service

	// FromNumber is the configured originator; AppBaseURL the public base
	// the provider calls back into.
	FromNumber string
	AppBaseURL string

	// MLStreamBase is the wss:// base for the audio stream; MLAPIKey rides
	// along as the stream bearer token.
	MLStreamBase string
	MLAPIKey     string

	GreetingURL string

	// WebhookAuthToken validates provider webhook signatures.
	WebhookAuthToken string
}

var e164Re = regexp.MustCompile(`^\+\d{8,15}$`)

type dialRequest struct {
	ToNumber    string `json:"toNumber"`
	AmdStrategy string `json:"amdStrategy"`
}

// Dial originates an outbound call: validate, resolve strategy, create the
// provider call, persist the row.
func (h Handlers) Dial(c *gin.Context) {
	log := logger.FromGin(c)

	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	// Unknown fields are rejected so legacy clients sending phoneNumber
	// fail loudly instead of dialing nothing.
	var req dialRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	req.ToNumber = strings.TrimSpace(req.ToNumber)
	if !e164Re.MatchString(req.ToNumber) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "toNumber must be E.164: a leading + followed by 8-15 digits"})
		return
	}
	requested, ok := calls.ParseStrategy(req.AmdStrategy)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amdStrategy must be ml or native"})
		return
	}

	if h.FromNumber == "" || h.AppBaseURL == "" {
		log.Error("dial rejected: originator number or app base url not configured")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calling is not configured"})
		return
	}

	slots := h.Slots
	if slots == nil {
		slots = amd.NopCallSlots{}
	}
	acquired, err := slots.Acquire(c.Request.Context(), userID)
	if err != nil {
		log.Error("call slot acquire failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to initiate call"})
		return
	}
	if !acquired {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many active calls; wait for one to finish"})
		return
	}
	committed := false
	defer func() {
		if !committed {
			if err := slots.Release(c.Request.Context(), userID); err != nil {
				log.Warn("call slot release failed", "err", err)
			}
		}
	}()

	strategy := h.Selector.Resolve(c.Request.Context(), requested)
	base := strings.TrimRight(h.AppBaseURL, "/")

	params := telephony.CreateCallParams{
		To:               req.ToNumber,
		From:             h.FromNumber,
		StatusWebhookURL: base + "/api/webhooks/call-status",
	}
	if strategy == calls.StrategyML {
		params.AnswerURL = base + "/api/twiml/connect-stream"
	} else {
		params.AnswerURL = base + "/api/twiml/connect-human"
		params.NativeAMD = true
		params.NativeAMDTimeoutSeconds = telephony.DefaultNativeAMDTimeoutSeconds
	}

	callSid, err := h.Gateway.CreateCall(c.Request.Context(), params)
	if err != nil {
		if pe, ok := telephony.AsProviderError(err); ok {
			log.Warn("provider rejected call", "code", pe.Code, "to", req.ToNumber)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": providerErrorMessage(pe)})
			return
		}
		log.Error("provider call creation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to initiate call"})
		return
	}

	row := calls.Call{
		CallSid:     callSid,
		UserID:      userID,
		ToNumber:    req.ToNumber,
		FromNumber:  h.FromNumber,
		AmdStrategy: strategy,
		Status:      calls.StatusRinging,
	}
	// The ML path starts streaming the moment the call is answered.
	if strategy == calls.StrategyML {
		now := time.Now().UTC()
		row.CallStartedAt = &now
	}
	created, err := h.Store.Create(c.Request.Context(), row)
	if err != nil {
		log.Error("call row create failed", "call_sid", callSid, "err", err)
		// The provider call is live but untracked; hang it up.
		if terr := h.Gateway.TerminateCall(c.Request.Context(), callSid); terr != nil {
			log.Error("terminate of untracked call failed", "call_sid", callSid, "err", terr)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to initiate call"})
		return
	}
	committed = true

	log.Info("call initiated", "call_sid", callSid, "strategy", strategy, "to", req.ToNumber)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"callId":   created.ID,
		"callSid":  created.CallSid,
		"strategy": created.AmdStrategy,
	})
}

// providerErrorMessage re-phrases vendor rejections the user can act on;
// everything else is surfaced verbatim.
func providerErrorMessage(pe *telephony.ProviderError) string {
	if pe.Code == telephony.CodeUnverifiedTrialDestination {
		return "This number is unverified. Trial accounts can only call verified numbers; verify the destination number in the Twilio Console and try again."
	}
	return pe.Message
}
