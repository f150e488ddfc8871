// Package caldav implements the CalDAV connection used by the sync engine:
// basic-auth sessions, calendar discovery via PROPFIND, range-bounded event
// search via REPORT calendar-query, and event authoring via PUT.
package caldav

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap"

	"github.com/beekhof/caldav-agenda/internal/model"
)

// UnknownCalendarName is substituted when a calendar's display-name lookup
// fails during discovery. The calendar is kept, never dropped.
const UnknownCalendarName = "Unknown Calendar"

const timeRangeLayout = "20060102T150405Z"

// AuthError indicates the server rejected the credentials. It is fatal for
// the owning engine instance; retrying without reconfiguration is pointless.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: HTTP %d", e.Status)
}

// IsAuthError reports whether err carries an auth-specific marker: either a
// 401-class status or an explicit authentication-failure message.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication") || strings.Contains(msg, "401")
}

// Client is a CalDAV client for a single account. It owns the authenticated
// session state; two accounts never share a Client.
type Client struct {
	httpClient *http.Client
	serverURL  string
	username   string
	password   string
	basePath   string
	log        *zap.Logger
}

// NewClient creates a CalDAV client for the given server and credentials.
// serverURL is the CalDAV endpoint (e.g. "https://caldav.icloud.com");
// for iCloud the password should be an app-specific password.
func NewClient(serverURL, username, password string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		serverURL:  serverURL,
		username:   username,
		password:   password,
		basePath:   fmt.Sprintf("/%s/calendars/", username),
		log:        logger,
	}
}

// makeRequest makes an authenticated HTTP request to the CalDAV server.
func (c *Client) makeRequest(ctx context.Context, method, path, depth string, body io.Reader) (*http.Response, error) {
	url := strings.TrimSuffix(c.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.password)
	if body != nil && method != http.MethodPut {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	if depth != "" {
		req.Header.Set("Depth", depth)
	}

	return c.httpClient.Do(req)
}

// classifyStatus converts a non-success HTTP status into the matching error.
func classifyStatus(op string, status int) error {
	if status == http.StatusUnauthorized {
		return &AuthError{Status: status}
	}
	return fmt.Errorf("%s: HTTP %d", op, status)
}

// Connect verifies the session by probing the account's calendar home with
// a zero-depth PROPFIND. A 401 response is surfaced as an AuthError; any
// other failure is a generic connection error.
func (c *Client) Connect(ctx context.Context) error {
	const probeBody = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:displayname/>
  </d:prop>
</d:propfind>`

	resp, err := c.makeRequest(ctx, "PROPFIND", c.basePath, "0", strings.NewReader(probeBody))
	if err != nil {
		return fmt.Errorf("failed to connect to caldav server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return classifyStatus("failed to connect to caldav server", resp.StatusCode)
	}

	c.log.Debug("caldav connection verified", zap.String("server", c.serverURL))
	return nil
}

// DiscoverCalendars lists the calendars available under the account's
// calendar home. Calendars whose display name cannot be determined are kept
// under a sentinel name rather than dropped.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]model.CalendarRef, error) {
	const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
  </d:prop>
</d:propfind>`

	resp, err := c.makeRequest(ctx, "PROPFIND", c.basePath, "1", strings.NewReader(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("failed to list calendars", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar list: %w", err)
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse calendar list: %w", err)
	}

	var refs []model.CalendarRef
	for _, response := range ms.Responses {
		if !response.isCalendar() {
			continue
		}

		name := response.displayName()
		if name == "" {
			c.log.Warn("calendar has no display name", zap.String("href", response.Href))
			name = UnknownCalendarName
		}

		refs = append(refs, model.CalendarRef{ID: response.Href, Name: name})
		c.log.Debug("found calendar", zap.String("name", name), zap.String("href", response.Href))
	}

	return refs, nil
}

// SearchEvents retrieves the VEVENT components of a calendar within
// [start, end). The query asks the server to expand recurring events into
// concrete occurrences inside the window; no client-side expansion is done.
func (c *Client) SearchEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*ical.Component, error) {
	queryBody := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data>
      <C:expand start="%[1]s" end="%[2]s"/>
    </C:calendar-data>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%[1]s" end="%[2]s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`, start.UTC().Format(timeRangeLayout), end.UTC().Format(timeRangeLayout))

	resp, err := c.makeRequest(ctx, "REPORT", calendarID, "1", strings.NewReader(queryBody))
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, classifyStatus("failed to query calendar", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read query response: %w", err)
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}

	var events []*ical.Component
	for _, response := range ms.Responses {
		data := response.calendarData()
		if data == "" {
			continue
		}

		cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
		if err != nil {
			c.log.Warn("failed to parse calendar object",
				zap.String("calendar", calendarID), zap.String("href", response.Href), zap.Error(err))
			continue
		}

		for _, child := range cal.Children {
			if child.Name == ical.CompEvent {
				events = append(events, child)
			}
		}
	}

	return events, nil
}

// PutEvent writes a single-event iCalendar object into the calendar under
// the given resource name.
func (c *Client) PutEvent(ctx context.Context, calendarID string, cal *ical.Calendar, name string) error {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	url := strings.TrimSuffix(c.serverURL, "/") + calendarID + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, &buf)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return classifyStatus("failed to store event", resp.StatusCode)
	}

	return nil
}

// multistatus mirrors the WebDAV multistatus response body. Element names
// are matched by local name, so the DAV: and caldav namespaces both bind.
type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string  `xml:"status"`
	Prop   davProp `xml:"prop"`
}

type davProp struct {
	DisplayName  *string       `xml:"displayname"`
	ResourceType *resourceType `xml:"resourcetype"`
	CalendarData string        `xml:"calendar-data"`
}

type resourceType struct {
	Calendar *struct{} `xml:"calendar"`
}

func (r *davResponse) isCalendar() bool {
	for _, ps := range r.Propstats {
		if ps.Prop.ResourceType != nil && ps.Prop.ResourceType.Calendar != nil {
			return true
		}
	}
	return false
}

func (r *davResponse) displayName() string {
	for _, ps := range r.Propstats {
		if ps.Status != "" && !strings.Contains(ps.Status, "200") {
			continue
		}
		if ps.Prop.DisplayName != nil {
			return strings.TrimSpace(*ps.Prop.DisplayName)
		}
	}
	return ""
}

func (r *davResponse) calendarData() string {
	for _, ps := range r.Propstats {
		if ps.Prop.CalendarData != "" {
			return ps.Prop.CalendarData
		}
	}
	return ""
}
