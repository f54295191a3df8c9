package protocol

const (
	// Transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Campaign routing/state.
	ErrCampaignBusy  = "E_CAMPAIGN_BUSY"
	ErrCampaignEnded = "E_CAMPAIGN_ENDED"

	// Engine layer.
	ErrValidation    = "E_VALIDATION"
	ErrCollaborator  = "E_COLLABORATOR"
	ErrTimeout       = "E_TIMEOUT"
	ErrActionExec    = "E_ACTION_EXEC"
	ErrUnknownAction = "E_UNKNOWN_ACTION"
	ErrTraceWrite    = "E_TRACE_WRITE"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrCampaignBusy:    {},
	ErrCampaignEnded:   {},
	ErrValidation:      {},
	ErrCollaborator:    {},
	ErrTimeout:         {},
	ErrActionExec:      {},
	ErrUnknownAction:   {},
	ErrTraceWrite:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
