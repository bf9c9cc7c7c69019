// internal/runtime/circuitapi.go: adapts the Circuit REST v2 API to our small interface
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/convseed/internal/circuit"
	"github.com/joshsymonds/convseed/internal/files"
)

const errorBodyLimit = 4 << 10

type restClient struct {
	baseURL string
	oauth   *oauth2.Config
	base    *http.Client
	logger  *zap.Logger

	mu       sync.Mutex
	tokens   oauth2.TokenSource
	authed   *http.Client
	handlers []func(circuit.ItemAddedEvent)
	stream   *eventStream
}

type wireUser struct {
	UserID       string `json:"userId"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

func (u wireUser) toUser() circuit.User {
	return circuit.User{ID: circuit.UserID(u.UserID), Email: u.EmailAddress, DisplayName: u.DisplayName}
}

type wireConversation struct {
	ConvID       string   `json:"convId"`
	Type         string   `json:"type"`
	Topic        string   `json:"topic"`
	Participants []string `json:"participants"`
}

func (c wireConversation) toConversation(kind circuit.ConvKind) circuit.Conversation {
	ids := make([]circuit.UserID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, circuit.UserID(p))
	}
	return circuit.Conversation{ID: circuit.ConvID(c.ConvID), Kind: kind, Topic: c.Topic, Participants: ids}
}

type wireItem struct {
	ItemID       string `json:"itemId"`
	ConvID       string `json:"convId"`
	ParentItemID string `json:"parentItemId"`
	Type         string `json:"type"`
	Text         struct {
		Subject string `json:"subject"`
		Content string `json:"content"`
	} `json:"text"`
	Attachments []struct {
		FileID string `json:"fileId"`
	} `json:"attachments"`
	CreationTime int64 `json:"creationTime"` // epoch millis
}

func (w wireItem) toItem() circuit.Item {
	item := circuit.Item{
		ID:       circuit.ItemID(w.ItemID),
		ConvID:   circuit.ConvID(w.ConvID),
		ParentID: circuit.ItemID(w.ParentItemID),
		Type:     circuit.ItemType(w.Type),
		Subject:  w.Text.Subject,
		Content:  w.Text.Content,
	}
	if w.CreationTime > 0 {
		item.CreatedAt = time.UnixMilli(w.CreationTime)
	}
	for _, a := range w.Attachments {
		item.Attachments = append(item.Attachments, a.FileID)
	}
	return item
}

type wireUpload struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

func (g *restClient) TenantUsers(ctx context.Context) ([]circuit.User, error) {
	var res []wireUser
	if err := g.do(ctx, http.MethodGet, "/rest/v2/users/tenant", nil, "", &res); err != nil {
		return nil, fmt.Errorf("list tenant users: %w", err)
	}
	users := make([]circuit.User, 0, len(res))
	for _, u := range res {
		users = append(users, u.toUser())
	}
	return users, nil
}

func (g *restClient) CreateOpenConversation(
	ctx context.Context,
	participants []circuit.UserID,
	topic, description string,
) (circuit.Conversation, error) {
	body := map[string]any{
		"participants": toStrings(participants),
		"topic":        topic,
		"description":  description,
	}
	var res wireConversation
	if err := g.postJSON(ctx, "/rest/v2/conversations/community", body, &res); err != nil {
		return circuit.Conversation{}, fmt.Errorf("create open conversation %q: %w", topic, err)
	}
	return res.toConversation(circuit.KindOpen), nil
}

func (g *restClient) CreateGroupConversation(ctx context.Context, participants []circuit.UserID) (circuit.Conversation, error) {
	body := map[string]any{"participants": toStrings(participants)}
	var res wireConversation
	if err := g.postJSON(ctx, "/rest/v2/conversations/group", body, &res); err != nil {
		return circuit.Conversation{}, fmt.Errorf("create group conversation: %w", err)
	}
	return res.toConversation(circuit.KindGroup), nil
}

func (g *restClient) AddTextItem(ctx context.Context, conv circuit.ConvID, item circuit.TextItem) (circuit.Item, error) {
	fileIDs, err := g.upload(ctx, item.Attachments)
	if err != nil {
		return circuit.Item{}, err
	}
	body := map[string]any{
		"content":     item.Content,
		"contentType": string(item.ContentType),
	}
	if item.Subject != "" {
		body["subject"] = item.Subject
	}
	if len(fileIDs) > 0 {
		body["attachments"] = fileIDs
	}
	path := "/rest/v2/conversations/" + url.PathEscape(string(conv)) + "/messages"
	if item.ParentID != "" {
		path += "/" + url.PathEscape(string(item.ParentID))
	}
	var res wireItem
	if err := g.postJSON(ctx, path, body, &res); err != nil {
		return circuit.Item{}, fmt.Errorf("add text item to %s: %w", conv, err)
	}
	out := res.toItem()
	if out.ConvID == "" {
		out.ConvID = conv
	}
	return out, nil
}

func (g *restClient) LikeItem(ctx context.Context, item circuit.ItemID) error {
	path := "/rest/v2/conversations/messages/" + url.PathEscape(string(item)) + "/like"
	if err := g.do(ctx, http.MethodPost, path, nil, "", nil); err != nil {
		return fmt.Errorf("like %s: %w", item, err)
	}
	return nil
}

func (g *restClient) FlagItem(ctx context.Context, conv circuit.ConvID, item circuit.ItemID) error {
	path := "/rest/v2/conversations/" + url.PathEscape(string(conv)) + "/messages/" + url.PathEscape(string(item)) + "/flag"
	if err := g.do(ctx, http.MethodPost, path, nil, "", nil); err != nil {
		return fmt.Errorf("flag %s: %w", item, err)
	}
	return nil
}

// upload sends every attachment in one multipart request and returns the
// remote file ids in order.
func (g *restClient) upload(ctx context.Context, refs []files.Ref) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, ref := range refs {
		if err := writeFilePart(mw, ref); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish upload body: %w", err)
	}
	var res []wireUpload
	if err := g.do(ctx, http.MethodPost, "/rest/v2/fileapi", &buf, mw.FormDataContentType(), &res); err != nil {
		return nil, fmt.Errorf("upload %d file(s): %w", len(refs), err)
	}
	ids := make([]string, 0, len(res))
	for _, u := range res {
		ids = append(ids, u.FileID)
	}
	return ids, nil
}

func writeFilePart(mw *multipart.Writer, ref files.Ref) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, ref.Name))
	ct := ref.MIMEType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", ref.Name, err)
	}
	rc, err := ref.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("copy %s: %w", ref.Name, err)
	}
	return nil
}

func (g *restClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return g.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

func (g *restClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	hc, err := g.authedClient()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-Id", reqID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	g.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", reqID),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &circuit.APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func toStrings(ids []circuit.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

var _ circuit.Client = (*restClient)(nil)
