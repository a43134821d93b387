package watch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/patient-capture/internal/browser"
	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/internal/payload"
	"github.com/wolfman30/patient-capture/internal/reconcile"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

var (
	relevantURLKeywords = []string{"patient", "booking", "queue", "appointment", "visit", "facesheet"}
	excludedURLKeywords = []string{"auth", "token", "login", "oauth", "session"}

	firstNameKeys = []string{"first_name", "firstName", "legalFirstName", "legal_first_name", "firstname"}
	lastNameKeys  = []string{"last_name", "lastName", "legalLastName", "legal_last_name", "lastname"}
	phoneKeys     = []string{"phone", "mobile_phone", "mobilePhone", "phone_number"}
)

// Relevant reports whether a response may carry an EMR id.
func Relevant(rawURL string, status int) bool {
	if status != http.StatusOK {
		return false
	}
	u := strings.ToLower(rawURL)
	for _, k := range excludedURLKeywords {
		if strings.Contains(u, k) {
			return false
		}
	}
	for _, k := range relevantURLKeywords {
		if strings.Contains(u, k) {
			return true
		}
	}
	return false
}

// TrafficWatcher extracts EMR ids from intercepted response bodies.
type TrafficWatcher struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewTrafficWatcher builds a TrafficWatcher.
func NewTrafficWatcher(logger *logging.Logger) *TrafficWatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &TrafficWatcher{logger: logger.Component("traffic_watcher"), now: time.Now}
}

// Inspect looks for an EMR id in resp. Known response shapes are checked
// before a depth-first search for any key containing "emr".
func (w *TrafficWatcher) Inspect(resp browser.NetworkResponse) (reconcile.Candidate, bool) {
	if !Relevant(resp.URL, resp.Status) || strings.TrimSpace(resp.Body) == "" {
		return reconcile.Candidate{}, false
	}
	root, err := payload.Decode([]byte(resp.Body))
	if err != nil {
		w.logger.Debug("skipping non-json response", "url", resp.URL)
		return reconcile.Candidate{}, false
	}

	emrID, holder := findEMRID(root)
	if emrID == "" {
		return reconcile.Candidate{}, false
	}

	booking := payload.AsMap(root)
	if data := payload.AsMap(booking["data"]); data != nil {
		booking = data
	}

	id := identityFrom(holder)
	if !id.HasName() {
		id = mergeIdentity(id, identityFrom(booking))
	}
	if !id.HasName() {
		payload.Objects(root, func(obj map[string]any) bool {
			found := identityFrom(obj)
			if found.HasName() && payload.ContainsValue(obj, emrID) {
				id = mergeIdentity(id, found)
				return false
			}
			return true
		})
	}
	if id.Phone == "" {
		id.Phone = payload.FirstString(booking, phoneKeys...)
	}

	c := reconcile.Candidate{
		ExternalID: emrID,
		Identity:   id,
		Source:     reconcile.SourceTraffic,
		BookingID:  payload.String(booking["id"]),
		ObservedAt: w.now(),
	}
	w.logger.Info("emr id found in response",
		"emr_id", c.ExternalID,
		"url", resp.URL,
		"booking_id", c.BookingID,
		"first_name", id.FirstName,
		"last_name", id.LastName,
	)
	return c, true
}

// Run inspects responses until the channel closes or ctx is done.
func (w *TrafficWatcher) Run(ctx context.Context, responses <-chan browser.NetworkResponse, pub Publisher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case resp, ok := <-responses:
			if !ok {
				return nil
			}
			c, found := w.Inspect(resp)
			if !found {
				continue
			}
			if err := pub.Publish(ctx, c); err != nil {
				return nil
			}
		}
	}
}

func findEMRID(root any) (string, map[string]any) {
	if statuses, ok := payload.Lookup(root, "data", "integration_status"); ok {
		for _, item := range payload.AsSlice(statuses) {
			obj := payload.AsMap(item)
			if id := payload.Identifier(obj["emr_id"]); id != "" {
				return id, obj
			}
		}
	}
	if details, ok := payload.Lookup(root, "data", "patient_match_details"); ok {
		obj := payload.AsMap(details)
		if id := payload.Identifier(obj["external_user_profile_id"]); id != "" {
			return id, obj
		}
	}
	hit, ok := payload.FindKeyAs(root, func(key string) bool {
		return strings.Contains(strings.ToLower(key), "emr")
	}, payload.Identifier)
	if !ok {
		return "", nil
	}
	return hit.Value, hit.Parent
}

func identityFrom(obj map[string]any) patient.Identity {
	if obj == nil {
		return patient.Identity{}
	}
	return patient.Identity{
		FirstName: payload.FirstString(obj, firstNameKeys...),
		LastName:  payload.FirstString(obj, lastNameKeys...),
		Phone:     payload.FirstString(obj, phoneKeys...),
	}
}

func mergeIdentity(base, extra patient.Identity) patient.Identity {
	if base.FirstName == "" {
		base.FirstName = extra.FirstName
	}
	if base.LastName == "" {
		base.LastName = extra.LastName
	}
	if base.Phone == "" {
		base.Phone = extra.Phone
	}
	return base
}
