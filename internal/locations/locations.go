// Package locations maps queue portal location ids to clinic names.
package locations

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// QueueBaseURL is the portal queue page; the location is selected by query string.
const QueueBaseURL = "https://manage.solvhealth.com/queue"

var namesByID = map[string]string{
	"AWRBj6": "Exer Urgent Care - Anaheim - Euclid St",
	"ABr1Nd": "Exer Urgent Care - Anaheim - State College Blvd",
	"g5rawn": "Exer Urgent Care - Beaumont",
	"gKe2Nj": "Exer Urgent Care - Beverly Hills",
	"v0mYy0": "Exer Urgent Care - Calabasas - Agoura Rd",
	"gdeYvE": "Exer Urgent Care - Calabasas - Mulholland Dr",
	"0V37aA": "Exer Urgent Care - Camarillo",
	"ABOklp": "Exer Urgent Care - Canyon Country",
	"A4NEvv": "Exer Urgent Care - Costa Mesa",
	"gw8Ky1": "Exer Urgent Care - Covina",
	"p3Xkkg": "Exer Urgent Care - Culver City - 8985 Venice Blvd",
	"A6JY29": "Exer Urgent Care - Culver City - 9726 Venice Blvd",
	"AXjwbE": "Exer Urgent Care - Demo",
	"gbx2w3": "Exer Urgent Care - Downtown",
	"AGGzMe": "Exer Urgent Care - Eagle Rock",
	"goBwnJ": "Exer Urgent Care - Glendale",
	"0r7Kd2": "Exer Urgent Care - Glendora",
	"gLXaG2": "Exer Urgent Care - Highland",
	"0md8a5": "Exer Urgent Care - Hollywood - Melrose Ave",
	"gqo6xN": "Exer Urgent Care - Hollywood - Willoughby Ave",
	"gZ86G6": "Exer Urgent Care - Huntington Park",
	"0edRx4": "Exer Urgent Care - Irvine",
	"gwdX30": "Exer Urgent Care - La Canada Flintridge",
	"gZ89yL": "Exer Urgent Care - Lakewood",
	"AzxK8o": "Exer Urgent Care - Lawndale",
	"A9OjD6": "Exer Urgent Care - Long Beach - Long Beach Blvd",
	"gbx2LQ": "Exer Urgent Care - Long Beach - PCH",
	"A2BbY8": "Exer Urgent Care - Long Beach - Willow St",
	"AGeveg": "Exer Urgent Care - Manhattan Beach",
	"gd8Pav": "Exer Urgent Care - Marina Del Rey",
	"gNLDRo": "Exer Urgent Care - Moorpark",
	"PgoEoA": "Exer Urgent Care - Newbury Park",
	"py6Ko8": "Exer Urgent Care - North Hollywood",
	"gonMGp": "Exer Urgent Care - Northridge",
	"A4N23m": "Exer Urgent Care - Pasadena - Allen Ave",
	"xAzoMp": "Exer Urgent Care - Pasadena - East Del Mar Blvd",
	"p8dEeq": "Exer Urgent Care - Pasadena - Lake Ave",
	"0EBZmJ": "Exer Urgent Care - Pasadena - South Fair Oaks Ave",
	"0x1KEk": "Exer Urgent Care - Physical Therapy",
	"0edXQB": "Exer Urgent Care - Playa Vista",
	"0x1Kdb": "Exer Urgent Care - Porter Ranch",
	"pDJxXl": "Exer Urgent Care - Rancho Palos Verdes",
	"07wDB3": "Exer Urgent Care - Redlands",
	"0m8YDg": "Exer Urgent Care - Redondo Beach",
	"0mOPvp": "Exer Urgent Care - Rolling Hills Estates",
	"gQKXVv": "Exer Urgent Care - Santa Monica - Colorado Blvd",
	"0O3mL1": "Exer Urgent Care - Santa Monica - Wilshire Blvd",
	"ABG1Np": "Exer Urgent Care - Sherman Oaks - Riverside",
	"gbx2W1": "Exer Urgent Care - Sherman Oaks - Ventura Blvd",
	"pyX2a6": "Exer Urgent Care - Silver Lake",
	"gKEwQA": "Exer Urgent Care - Stevenson Ranch",
	"gJMwx7": "Exer Urgent Care - Tarzana",
	"g1B9aR": "Exer Urgent Care - Thousand Oaks",
	"AGL7qR": "Exer Urgent Care - Torrance - PCH",
	"pjOLzD": "Exer Urgent Care - Torrance - Sepulveda Blvd",
	"AvXK8d": "Exer Urgent Care - Venice - Lincoln Blvd",
	"gZ867B": "Exer Urgent Care - Virtual Care",
	"0OMDWp": "Exer Urgent Care - West Hills",
	"AvXZa3": "Exer Urgent Care - West Hollywood - La Brea Ave",
	"p8P9bp": "Exer Urgent Care - West Hollywood - Sunset Blvd",
	"gJBEQl": "Exer Urgent Care - West Los Angeles",
	"plvWN0": "Exer Urgent Care - Westlake Village",
	"07okv0": "Exer Urgent Care - Westwood",
	"0VGVeM": "Exer Urgent Care - Whittier",
}

var idsByName = func() map[string]string {
	out := make(map[string]string, len(namesByID))
	for id, name := range namesByID {
		out[name] = id
	}
	return out
}()

// Name returns the clinic name for a location id.
func Name(locationID string) (string, bool) {
	name, ok := namesByID[strings.TrimSpace(locationID)]
	return name, ok
}

// ID returns the location id for a clinic name.
func ID(name string) (string, bool) {
	id, ok := idsByName[strings.TrimSpace(name)]
	return id, ok
}

// DisplayName never fails: unknown ids render as "Unknown Location (<id>)".
func DisplayName(locationID string) string {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return "Unknown Location"
	}
	if name, ok := Name(locationID); ok {
		return name
	}
	return fmt.Sprintf("Unknown Location (%s)", locationID)
}

// FromURL extracts the first location_ids query value from a portal URL.
func FromURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	for _, v := range u.Query()["location_ids"] {
		// the portal also accepts a comma separated list
		if first := strings.TrimSpace(strings.Split(v, ",")[0]); first != "" {
			return first, true
		}
	}
	return "", false
}

// QueueURL builds the queue page URL for a location id.
func QueueURL(locationID string) string {
	q := url.Values{}
	q.Set("location_ids", locationID)
	return QueueBaseURL + "?" + q.Encode()
}

// IDs lists every known location id, sorted.
func IDs() []string {
	out := make([]string, 0, len(namesByID))
	for id := range namesByID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
