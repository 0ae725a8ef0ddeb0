package chatwire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/relaychat/internal/chat"
)

var ErrConflict = errors.New("message conflict")

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type RestClientOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// RestClient is the request/response fallback path to the messaging API.
// Implements chat.RestClient.
type RestClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewRestClient(opts RestClientOptions) *RestClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &RestClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

type createMessageRequest struct {
	Conversation chat.ConversationKey `json:"conversation"`
	Recipient    string               `json:"recipient,omitempty"`
	Content      string               `json:"content"`
	Attachment   *chat.Attachment     `json:"attachment,omitempty"`
}

type updateMessageRequest struct {
	Conversation chat.ConversationKey `json:"conversation"`
	Content      string               `json:"content"`
}

type reactionRequest struct {
	Conversation chat.ConversationKey `json:"conversation"`
	Emoji        string               `json:"emoji"`
}

type messageListResponse struct {
	Messages []chat.Message `json:"messages"`
}

func (c *RestClient) CreateMessage(ctx context.Context, draft chat.Draft) (chat.Message, error) {
	var out chat.Message
	err := c.doJSON(ctx, http.MethodPost, "/v1/messages", createMessageRequest{
		Conversation: draft.Conversation,
		Recipient:    draft.Recipient,
		Content:      draft.Content,
		Attachment:   draft.Attachment,
	}, &out)
	return out, err
}

func (c *RestClient) UpdateMessage(ctx context.Context, conversation chat.ConversationKey, id, content string) (chat.Message, error) {
	var out chat.Message
	err := c.doJSON(ctx, http.MethodPut, "/v1/messages/"+url.PathEscape(id), updateMessageRequest{
		Conversation: conversation,
		Content:      content,
	}, &out)
	return out, err
}

func (c *RestClient) DeleteMessage(ctx context.Context, conversation chat.ConversationKey, id string, forEveryone bool) error {
	q := url.Values{}
	q.Set("conversation", string(conversation))
	if forEveryone {
		q.Set("forAll", "true")
	}
	return c.doJSON(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(id)+"?"+q.Encode(), nil, nil)
}

func (c *RestClient) AddReaction(ctx context.Context, conversation chat.ConversationKey, id, emoji string) (chat.Message, error) {
	var out chat.Message
	err := c.doJSON(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/reactions", reactionRequest{
		Conversation: conversation,
		Emoji:        emoji,
	}, &out)
	return out, err
}

func (c *RestClient) RemoveReaction(ctx context.Context, conversation chat.ConversationKey, id, emoji string) (chat.Message, error) {
	q := url.Values{}
	q.Set("conversation", string(conversation))
	q.Set("emoji", emoji)
	var out chat.Message
	err := c.doJSON(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(id)+"/reactions?"+q.Encode(), nil, &out)
	return out, err
}

func (c *RestClient) ListMessages(ctx context.Context, conversation chat.ConversationKey, limit int) ([]chat.Message, error) {
	q := url.Values{}
	q.Set("conversation", string(conversation))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out messageListResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/messages?"+q.Encode(), nil, &out)
	return out.Messages, err
}

func (c *RestClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", "chat_"+uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		if resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s %s", ErrConflict, method, requestPath)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", chat.ErrNotFound, requestPath)
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *RestClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
