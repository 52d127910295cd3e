package verification

// FlowState tracks a verification attempt through the callback pipeline.
// States only move forward; Failed and Complete are terminal.
type FlowState int

const (
	FlowInit FlowState = iota
	FlowAwaitingCallback
	FlowStateValidated
	FlowTokenExchanged
	FlowProfileFetched
	FlowComplete
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowInit:
		return "INIT"
	case FlowAwaitingCallback:
		return "AWAITING_CALLBACK"
	case FlowStateValidated:
		return "STATE_VALIDATED"
	case FlowTokenExchanged:
		return "TOKEN_EXCHANGED"
	case FlowProfileFetched:
		return "PROFILE_FETCHED"
	case FlowComplete:
		return "COMPLETE"
	case FlowFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FailureReason names why a flow ended in Failed. Each reason corresponds to
// the pipeline stage that rejected the attempt.
type FailureReason string

const (
	ReasonInvalidState        FailureReason = "INVALID_STATE"
	ReasonProviderDenied      FailureReason = "PROVIDER_DENIED"
	ReasonTokenExchangeFailed FailureReason = "TOKEN_EXCHANGE_FAILED"
	ReasonProfileFetchFailed  FailureReason = "PROFILE_FETCH_FAILED"
	ReasonPersistenceFailed   FailureReason = "PERSISTENCE_FAILED"
)
