package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nerrad567/cloudsync-core/internal/device"
)

// API adapts the generic client to the engine's operations. Paths follow the
// common vendor shape (list, per-device state, batched state, command); the
// engine itself never sees wire formats, only typed results.
type API struct {
	client *Client
	logger Logger
}

// NewAPI creates the API adapter over a rate-limited client.
func NewAPI(client *Client) *API {
	return &API{client: client, logger: noopLogger{}}
}

// SetLogger sets the logger for the adapter.
func (a *API) SetLogger(logger Logger) {
	a.logger = logger
}

// DeviceInfo is one entry of the cloud's device list.
type DeviceInfo struct {
	ID           string
	Name         string
	Model        string
	Type         device.DeviceType
	Capabilities []device.Capability
}

// wire structs for the vendor API.
type wireDevice struct {
	ID           string   `json:"id"`
	MacID        string   `json:"macId"`
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

type wireDeviceList struct {
	Devices []wireDevice `json:"devices"`
}

type wireState struct {
	Attributes map[string]any `json:"attributes"`
}

type wireBatchState struct {
	Devices map[string]wireState `json:"devices"`
}

// ListDevices fetches the account's device list.
//
// Devices without an id fall back to their MAC address, then UUID; entries
// with no usable identifier are skipped with a warning.
func (a *API) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	resp, err := a.client.Do(ctx, Request{Method: http.MethodGet, Path: "/v1/devices"})
	if err != nil {
		return nil, err
	}

	var list wireDeviceList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, transientErr(resp.StatusCode, fmt.Errorf("decoding device list: %w", err))
	}

	infos := make([]DeviceInfo, 0, len(list.Devices))
	for _, wd := range list.Devices {
		id := wd.ID
		if id == "" {
			id = wd.MacID
		}
		if id == "" {
			id = wd.UUID
		}
		if id == "" {
			a.logger.Warn("device with no id skipped", "name", wd.Name)
			continue
		}

		caps := make([]device.Capability, 0, len(wd.Capabilities))
		for _, c := range wd.Capabilities {
			caps = append(caps, device.Capability(c))
		}

		infos = append(infos, DeviceInfo{
			ID:           id,
			Name:         wd.Name,
			Model:        wd.Model,
			Type:         device.DeviceType(wd.Type),
			Capabilities: caps,
		})
	}
	return infos, nil
}

// FetchState fetches the current attribute values for one device.
func (a *API) FetchState(ctx context.Context, deviceID string) (map[string]device.Value, error) {
	resp, err := a.client.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/v1/devices/" + url.PathEscape(deviceID) + "/state",
	})
	if err != nil {
		return nil, err
	}

	var state wireState
	if err := json.Unmarshal(resp.Body, &state); err != nil {
		return nil, transientErr(resp.StatusCode, fmt.Errorf("decoding state: %w", err))
	}
	return normaliseAttributes(state.Attributes), nil
}

// FetchStates fetches attribute values for many devices in one call.
// Devices absent from the response map had no data available this cycle.
func (a *API) FetchStates(ctx context.Context, deviceIDs []string) (map[string]map[string]device.Value, error) {
	body, err := json.Marshal(map[string][]string{"ids": deviceIDs})
	if err != nil {
		return nil, fmt.Errorf("encoding batch request: %w", err)
	}

	resp, err := a.client.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v1/devices/state",
		Body:   body,
	})
	if err != nil {
		return nil, err
	}

	var batch wireBatchState
	if err := json.Unmarshal(resp.Body, &batch); err != nil {
		return nil, transientErr(resp.StatusCode, fmt.Errorf("decoding batch state: %w", err))
	}

	result := make(map[string]map[string]device.Value, len(batch.Devices))
	for id, state := range batch.Devices {
		result[id] = normaliseAttributes(state.Attributes)
	}
	return result, nil
}

// FetchEnergy fetches the slow-cadence energy readings for one device.
// Vendors expose these on a separate endpoint because the readings are
// expensive to aggregate server-side.
func (a *API) FetchEnergy(ctx context.Context, deviceID string) (map[string]device.Value, error) {
	resp, err := a.client.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/v1/devices/" + url.PathEscape(deviceID) + "/energy",
	})
	if err != nil {
		return nil, err
	}

	var state wireState
	if err := json.Unmarshal(resp.Body, &state); err != nil {
		return nil, transientErr(resp.StatusCode, fmt.Errorf("decoding energy: %w", err))
	}
	return normaliseAttributes(state.Attributes), nil
}

// SendCommand submits one capability write for a device. Uses command
// priority so it draws from the reserved rate-limit allotment.
func (a *API) SendCommand(ctx context.Context, deviceID string, capability device.Capability, value device.Value) error {
	body, err := json.Marshal(map[string]any{
		"capability": string(capability),
		"value":      wireValue(value),
	})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	_, err = a.client.DoPriority(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v1/devices/" + url.PathEscape(deviceID) + "/command",
		Body:   body,
	}, PriorityCommand)
	return err
}

// normaliseAttributes converts loosely-typed JSON attribute payloads into
// the tagged value union. Unsupported payload types (objects, arrays, null)
// are dropped; the registry only holds scalars.
func normaliseAttributes(raw map[string]any) map[string]device.Value {
	attrs := make(map[string]device.Value, len(raw))
	for name, v := range raw {
		switch val := v.(type) {
		case float64:
			attrs[name] = device.Number(val)
		case bool:
			attrs[name] = device.Boolean(val)
		case string:
			attrs[name] = device.String(val)
		}
	}
	return attrs
}

// wireValue converts a tagged value back to its JSON scalar.
func wireValue(v device.Value) any {
	switch v.Kind {
	case device.KindNumber:
		return v.Num
	case device.KindBool:
		return v.Bool
	default:
		return v.Str
	}
}
