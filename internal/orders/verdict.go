package orders

// Verdict is the tri-state outcome of one fulfillment call. Exactly one of
// success, retryable failure or non-retryable failure holds. Verdicts are
// built at the fulfillment boundary, consumed immediately by the orchestrator
// and never persisted.
type Verdict struct {
	Successful   bool
	Retryable    bool
	StatusCode   int
	ErrorMessage string
	ResponseBody string
}

func SuccessVerdict(statusCode int) Verdict {
	return Verdict{Successful: true, StatusCode: statusCode}
}

func RetryableVerdict(statusCode int, errorMessage, responseBody string) Verdict {
	return Verdict{Retryable: true, StatusCode: statusCode, ErrorMessage: errorMessage, ResponseBody: responseBody}
}

func PermanentVerdict(statusCode int, errorMessage, responseBody string) Verdict {
	return Verdict{StatusCode: statusCode, ErrorMessage: errorMessage, ResponseBody: responseBody}
}
