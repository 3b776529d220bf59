package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"orderpipeline/internal/platform/observability"

	"go.uber.org/zap"
)

// FulfillmentClient is the boundary to the remote fulfillment service.
// Ordinary remote failures (timeouts, 4xx/5xx) never surface as errors from
// the verdict operations; they are classified into the verdict instead.
type FulfillmentClient interface {
	CreateLemonade(ctx context.Context, req LemonadeRequest) (Verdict, LemonadeResponse)
	CreatePizza(ctx context.Context, req PizzaRequest) (Verdict, PizzaResponse)
	DeliverBill(ctx context.Context) error
}

// HTTPFulfillmentClient talks to the fulfillment service over HTTP.
type HTTPFulfillmentClient struct {
	baseURL string
	client  *http.Client
	logger  observability.Logger
}

func NewHTTPFulfillmentClient(baseURL string, timeout time.Duration, logger observability.Logger) *HTTPFulfillmentClient {
	return &HTTPFulfillmentClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *HTTPFulfillmentClient) CreateLemonade(ctx context.Context, req LemonadeRequest) (Verdict, LemonadeResponse) {
	var resp LemonadeResponse
	verdict := c.post(ctx, "/lemonade", req, &resp)
	if verdict.Successful && !resp.IsSuccessful {
		return PermanentVerdict(verdict.StatusCode, "fulfillment reported lemonade failure", verdict.ResponseBody), resp
	}
	return verdict, resp
}

func (c *HTTPFulfillmentClient) CreatePizza(ctx context.Context, req PizzaRequest) (Verdict, PizzaResponse) {
	var resp PizzaResponse
	verdict := c.post(ctx, "/pizza", req, &resp)
	if verdict.Successful && !resp.IsSuccessful {
		return PermanentVerdict(verdict.StatusCode, "fulfillment reported pizza failure", verdict.ResponseBody), resp
	}
	return verdict, resp
}

// DeliverBill completes billing for the order. There is no verdict and no
// next step; the caller only logs a failure.
func (c *HTTPFulfillmentClient) DeliverBill(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bill", nil)
	if err != nil {
		return fmt.Errorf("build bill request: %w", err)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("deliver bill: %w", err)
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, httpResp.Body)

	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("deliver bill: fulfillment returned %d", httpResp.StatusCode)
	}
	return nil
}

// post performs one fulfillment call and classifies the outcome. 5xx and
// transport faults are worth another attempt; 4xx means the request itself is
// bad and retrying cannot help.
func (c *HTTPFulfillmentClient) post(ctx context.Context, path string, body any, out any) Verdict {
	payload, err := json.Marshal(body)
	if err != nil {
		return PermanentVerdict(0, fmt.Sprintf("encode request: %v", err), "")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return PermanentVerdict(0, fmt.Sprintf("build request: %v", err), "")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return RetryableVerdict(0, err.Error(), "")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return RetryableVerdict(httpResp.StatusCode, fmt.Sprintf("read response: %v", err), "")
	}

	switch {
	case httpResp.StatusCode >= 500,
		httpResp.StatusCode == http.StatusRequestTimeout,
		httpResp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("Fulfillment service failure",
			zap.String("path", path),
			zap.Int("status_code", httpResp.StatusCode),
		)
		return RetryableVerdict(httpResp.StatusCode, "fulfillment service failure", string(raw))
	case httpResp.StatusCode >= 400:
		return PermanentVerdict(httpResp.StatusCode, "fulfillment rejected request", string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return PermanentVerdict(httpResp.StatusCode, fmt.Sprintf("undecodable fulfillment response: %v", err), string(raw))
	}
	return SuccessVerdict(httpResp.StatusCode)
}
