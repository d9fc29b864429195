package observability

const (
	AttrAgentID        = "agent.id"
	AttrHandlerName    = "handler.name"
	AttrTriggerType    = "trigger.type"
	AttrFlowID         = "flow.id"
	AttrLLMModel       = "llm.model"
	AttrLLMProvider    = "llm.provider"
	AttrLLMTokensIn    = "llm.tokens.input"
	AttrLLMTokensOut   = "llm.tokens.output"
	AttrErrorType      = "error.type"
	AttrHTTPStatusCode = "http.status_code"

	SpanAgentRun        = "agent.run"
	SpanLLMRequest      = "agent.llm_request"
	SpanHandlerDispatch = "dispatcher.dispatch"
	SpanFlowExecution   = "workflow.execute"
	SpanTriggerFire     = "trigger.fire"

	DefaultServiceName = "kyra"
)
