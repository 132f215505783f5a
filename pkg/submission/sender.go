package submission

import (
	"context"

	appctx "github.com/Ramsey-B/intake/pkg/context"
	"github.com/Ramsey-B/intake/pkg/httpclient"
	"github.com/Ramsey-B/intake/pkg/models"
)

// Reply is the remote endpoint's answer. Body is nil when it could not be read.
type Reply struct {
	StatusCode int
	Body       []byte
}

// Sender delivers a payload to the remote submission endpoint.
// A non-2xx status is a Reply, not an error; errors mean no usable status arrived,
// or the status arrived but its body could not be read (StatusCode set, Body nil).
type Sender interface {
	Send(ctx context.Context, payload models.SubmissionPayload) (Reply, error)
}

// HTTPSender posts payloads as JSON
type HTTPSender struct {
	client *httpclient.Client
	url    string
}

func NewHTTPSender(client *httpclient.Client, url string) *HTTPSender {
	return &HTTPSender{client: client, url: url}
}

func (s *HTTPSender) Send(ctx context.Context, payload models.SubmissionPayload) (Reply, error) {
	headers := map[string]string{}
	if requestID := appctx.GetRequestID(ctx); requestID != "" {
		headers["X-Request-Id"] = requestID
	}

	resp, err := s.client.PostJSON(ctx, s.url, payload, headers)
	if resp == nil {
		return Reply{}, err
	}
	if err != nil {
		return Reply{StatusCode: resp.StatusCode}, err
	}
	return Reply{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}
