package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wolfman30/patientpal/internal/operations"
)

const (
	DefaultGBookingURL = "https://api.gbooking.net/json/"
	DefaultCracURL     = "https://crac-prod3.gbooking.ru/rpc"
)

// GBookingConfig configures the GBooking JSON-RPC client. User and Token are
// optional; without them calls are made with guest access.
type GBookingConfig struct {
	URL        string
	CracURL    string
	User       string
	Token      string
	BusinessID string
	HTTPClient *http.Client
}

// GBookingClient is a Provider backed by the GBooking JSON-RPC API.
type GBookingClient struct {
	url        string
	cracURL    string
	user       string
	token      string
	businessID string
	httpClient *http.Client
	nextID     atomic.Int64
}

func NewGBookingClient(cfg GBookingConfig) (*GBookingClient, error) {
	if strings.TrimSpace(cfg.BusinessID) == "" {
		return nil, errors.New("booking: gbooking business id is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultGBookingURL
	}
	if cfg.CracURL == "" {
		cfg.CracURL = DefaultCracURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GBookingClient{
		url:        cfg.URL,
		cracURL:    cfg.CracURL,
		user:       cfg.User,
		token:      cfg.Token,
		businessID: cfg.BusinessID,
		httpClient: httpClient,
	}, nil
}

func (c *GBookingClient) Name() string { return "gbooking" }

type rpcCredentials struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  any             `json:"params"`
	Cred    *rpcCredentials `json:"cred,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type businessRef struct {
	ID string `json:"id"`
}

type gbookingAppointment struct {
	ID       string `json:"id"`
	Start    string `json:"start"`
	Resource struct {
		Name string `json:"name"`
	} `json:"resource"`
	Taxonomy struct {
		Name string `json:"name"`
	} `json:"taxonomy"`
	Client struct {
		ID       string `json:"id"`
		FullName string `json:"full_name"`
	} `json:"client"`
}

type businessProfile struct {
	Business struct {
		Resources []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Surname string `json:"surname"`
		} `json:"resources"`
	} `json:"business"`
}

type cracResult struct {
	Slots []struct {
		Date      string `json:"date"`
		Resources []struct {
			ResourceID string `json:"resourceId"`
			CutSlots   []struct {
				Start     int  `json:"start"`
				End       int  `json:"end"`
				Available bool `json:"available"`
			} `json:"cutSlots"`
		} `json:"resources"`
	} `json:"slots"`
}

func (c *GBookingClient) Execute(ctx context.Context, op operations.Operation) (Result, error) {
	name := op.Name()
	switch o := op.(type) {
	case operations.CreateAppointment:
		var out struct {
			ID          string `json:"id"`
			Appointment struct {
				ID string `json:"id"`
			} `json:"appointment"`
		}
		params := map[string]any{
			"business": businessRef{ID: c.businessID},
			"client":   map[string]string{"id": o.PatientID, "full_name": o.PatientName},
			"resource": map[string]string{"name": o.DoctorName},
			"taxonomy": map[string]string{"name": o.Specialty},
			"start":    o.StartsAt().Format(time.RFC3339),
		}
		if err := c.call(ctx, name, c.url, "appointment.reserve_appointment", params, &out); err != nil {
			return Result{}, err
		}
		id := out.ID
		if id == "" {
			id = out.Appointment.ID
		}
		if id == "" {
			return Result{}, &Error{Operation: name, Cause: CauseInvalidResponse, Message: "reservation returned no appointment id"}
		}
		return Result{Values: []string{id}}, nil

	case operations.CancelAppointment:
		params := map[string]any{
			"business":    businessRef{ID: c.businessID},
			"appointment": map[string]string{"id": o.AppointmentID},
		}
		return Result{}, c.call(ctx, name, c.url, "appointment.cancel_appointment_by_client", params, nil)

	case operations.RescheduleAppointment:
		params := map[string]any{
			"id":    o.AppointmentID,
			"start": o.StartsAt().Format(time.RFC3339),
		}
		return Result{}, c.call(ctx, name, c.url, "appointment.update", params, nil)

	case operations.GetAppointmentDetails:
		var out gbookingAppointment
		params := map[string]any{
			"business":    businessRef{ID: c.businessID},
			"appointment": map[string]string{"id": o.AppointmentID},
		}
		if err := c.call(ctx, name, c.url, "appointment.get_appointment_by_id", params, &out); err != nil {
			return Result{}, err
		}
		start, err := time.Parse(time.RFC3339, out.Start)
		if err != nil || out.ID == "" {
			return Result{}, &Error{Operation: name, Cause: CauseInvalidResponse, Message: "appointment details are incomplete", Err: err}
		}
		appt := Appointment{
			ID:          out.ID,
			DoctorName:  out.Resource.Name,
			Specialty:   out.Taxonomy.Name,
			Date:        start.Format(operations.DateLayout),
			Time:        start.Format(operations.TimeLayout),
			PatientName: out.Client.FullName,
			PatientID:   out.Client.ID,
		}
		return Result{Values: appt.Values()}, nil

	case operations.GetNextAvailableTimeslot:
		resourceID, err := c.resolveResource(ctx, name, o.DoctorName)
		if err != nil {
			return Result{}, err
		}
		var out cracResult
		day := o.Date.UTC()
		params := []any{map[string]any{
			"business": businessRef{ID: c.businessID},
			"filters": map[string]any{
				"resources": []string{resourceID},
				"date": map[string]string{
					"from": day.Format(time.RFC3339),
					"to":   day.Add(24 * time.Hour).Format(time.RFC3339),
				},
			},
		}}
		if err := c.call(ctx, name, c.cracURL, "Crac.GetCRACResourcesAndRooms", params, &out); err != nil {
			return Result{}, err
		}
		slots := openSlots(out, resourceID)
		if len(slots) == 0 {
			return Result{}, rejected(name, "%s has no open time slots on %s", o.DoctorName, day.Format(operations.DateLayout))
		}
		return Result{Values: []string{strings.Join(slots, ", ")}}, nil
	}
	return Result{}, notImplemented(name)
}

// resolveResource finds the business resource whose name matches doctor.
func (c *GBookingClient) resolveResource(ctx context.Context, op operations.Name, doctor string) (string, error) {
	var profile businessProfile
	params := map[string]any{"business": businessRef{ID: c.businessID}}
	if err := c.call(ctx, op, c.url, "business.get_profile_by_id", params, &profile); err != nil {
		return "", err
	}
	want := normalizeDoctor(doctor)
	for _, r := range profile.Business.Resources {
		full := normalizeDoctor(r.Name + " " + r.Surname)
		if r.ID != "" && (full == want || normalizeDoctor(r.Surname) == want) {
			return r.ID, nil
		}
	}
	return "", rejected(op, "%s is not a doctor at this clinic", doctor)
}

func normalizeDoctor(name string) string {
	name = strings.ToLower(strings.Join(strings.Fields(name), " "))
	for _, prefix := range []string{"dr. ", "dr "} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}

// openSlots flattens the available CRAC cut slots (minutes from midnight) of
// one resource into sorted, de-duplicated HH:MM start times.
func openSlots(res cracResult, resourceID string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, day := range res.Slots {
		for _, resource := range day.Resources {
			if resource.ResourceID != resourceID {
				continue
			}
			for _, slot := range resource.CutSlots {
				if !slot.Available || slot.Start < 0 || slot.Start >= 24*60 {
					continue
				}
				clock := fmt.Sprintf("%02d:%02d", slot.Start/60, slot.Start%60)
				if _, dup := seen[clock]; dup {
					continue
				}
				seen[clock] = struct{}{}
				out = append(out, clock)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (c *GBookingClient) call(ctx context.Context, op operations.Name, url, method string, params, out any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	if c.user != "" && c.token != "" {
		req.Cred = &rpcCredentials{User: c.user, Token: c.token}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("booking: marshal %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Operation: op, Cause: CauseTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Operation: op, Cause: CauseTimeout, Err: ctx.Err()}
		}
		return &Error{Operation: op, Cause: CauseTransport, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Operation: op, Cause: CauseTransport, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Operation: op, Cause: CauseTransport, Message: fmt.Sprintf("%s returned status %d", method, resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return &Error{Operation: op, Cause: CauseInvalidResponse, Err: err}
	}
	if rpcResp.Error != nil {
		return &Error{Operation: op, Cause: CauseRejected, Message: rpcResp.Error.Message}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return &Error{Operation: op, Cause: CauseInvalidResponse, Message: method + " returned no result"}
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return &Error{Operation: op, Cause: CauseInvalidResponse, Err: err}
	}
	return nil
}
