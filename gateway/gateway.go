// Package gateway is the host-side REST front for the ornament: it connects
// to the device's register service as a wireless central and exposes each
// register as an HTTP attribute. One gateway serves one ornament.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"ornament-go/errcode"
	"ornament-go/qty"
	"ornament-go/regmap"
)

// Peripheral is the slice of the wireless central the handlers need. The
// real implementation lives in ble.go; tests substitute an in-memory device.
type Peripheral interface {
	Read(uuid16 uint16) ([]byte, error)
	Write(uuid16 uint16, data []byte) error
}

// attr binds a route to its register descriptor. writeUUID is the shadow
// characteristic carrying host writes, zero for read-only attributes.
type attr struct {
	path      string
	desc      regmap.Desc
	writeUUID uint16
}

// Attrs is the route table: one attribute per register. Paths are part of
// the deployed API.
func attrs() []attr {
	paths := map[regmap.ID]string{
		regmap.HeapFree:       "/heap",
		regmap.BatteryADC:     "/battery",
		regmap.LightLevel:     "/light",
		regmap.LightThreshold: "/light/threshold",
		regmap.AccelCount:     "/accelerometer",
		regmap.AccelThreshold: "/accelerometer/threshold",
		regmap.BootCount:      "/boots",
		regmap.LEDEnable:      "/led",
	}
	var as []attr
	for _, d := range regmap.Ornament() {
		as = append(as, attr{
			path:      paths[d.ID],
			desc:      d,
			writeUUID: regmap.WriteShadow[d.ID],
		})
	}
	return as
}

// Gateway holds the pieces the handlers share.
type Gateway struct {
	peer    Peripheral
	log     *slog.Logger
	metrics *Metrics
}

func New(peer Peripheral, log *slog.Logger, metrics *Metrics) *Gateway {
	return &Gateway{peer: peer, log: log, metrics: metrics}
}

// Handler builds the route table. Unknown paths 404 through the mux.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, a := range attrs() {
		mux.Handle(a.path, g.attrHandler(a))
	}
	return mux
}

// scaledValue is the response body for fixed-point attributes. The unit is
// not optional.
type scaledValue struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// uintValue is the response body for plain integer attributes.
type uintValue struct {
	Value uint64 `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// postBody is the request body for threshold writes.
type postBody struct {
	Value float64 `json:"value"`
}

func (g *Gateway) attrHandler(a attr) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.metrics.Requests.WithLabelValues(a.path, r.Method).Inc()
		switch r.Method {
		case http.MethodGet:
			g.get(w, r, a)
		case http.MethodPost:
			if a.writeUUID == 0 {
				http.Error(w, "read-only attribute", http.StatusMethodNotAllowed)
				return
			}
			g.post(w, r, a)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (g *Gateway) get(w http.ResponseWriter, r *http.Request, a attr) {
	start := time.Now()
	b, err := g.peer.Read(uint16(a.desc.ID))
	g.metrics.ReadLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		g.deviceError(w, r, a, "read", err)
		return
	}
	raw, err := qty.Decode(b, a.desc.Width)
	if err != nil {
		g.deviceError(w, r, a, "decode", err)
		return
	}
	var body any
	if a.desc.Kind == qty.Scaled {
		body = scaledValue{Value: a.desc.Eng(raw), Unit: a.desc.Unit.String()}
	} else {
		body = uintValue{Value: raw, Unit: a.desc.Unit.String()}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (g *Gateway) post(w http.ResponseWriter, r *http.Request, a attr) {
	var body postBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusUnprocessableEntity)
		return
	}
	raw, err := a.desc.Scale.RawFromEng(body.Value, a.desc.Width)
	if err != nil {
		http.Error(w, "value out of range", http.StatusUnprocessableEntity)
		return
	}
	buf := make([]byte, a.desc.Width)
	if _, err := qty.Encode(buf, raw, a.desc.Width); err != nil {
		http.Error(w, "value out of range", http.StatusUnprocessableEntity)
		return
	}
	if err := g.peer.Write(a.writeUUID, buf); err != nil {
		g.deviceError(w, r, a, "write", err)
		return
	}
	g.log.LogAttrs(r.Context(), slog.LevelInfo, "threshold written",
		slog.String("attr", a.path),
		slog.Float64("value", body.Value),
		slog.Uint64("raw", raw))
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) deviceError(w http.ResponseWriter, r *http.Request, a attr, op string, err error) {
	g.metrics.DeviceErrors.WithLabelValues(a.path, op).Inc()
	g.log.LogAttrs(r.Context(), slog.LevelError, "device access failed",
		slog.String("attr", a.path),
		slog.String("op", op),
		slog.String("code", string(errcode.Of(err))),
		slog.Any("err", err))
	http.Error(w, "device unavailable", http.StatusBadGateway)
}
