package external

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Service names one of the external APIs the poller knows about
type Service string

const (
	ServiceCIPAPI          Service = "cip_api"
	ServiceCIPAPIForReport Service = "cip_api_for_report"
	ServicePanelApp        Service = "panelapp"
	ServiceEnsembl         Service = "ensembl"
	ServiceMutalyzer       Service = "mutalyzer"
	ServiceGeneNames       Service = "genenames"
)

const endpointPlaceholder = "{endpoint}"

// ErrUnknownService is returned for a service outside the registry
var ErrUnknownService = errors.New("unknown service")

// ServiceEntry describes how to reach a service
type ServiceEntry struct {
	URLTemplate  string
	RequiresAuth bool
	JSONHeaders  bool
}

var defaultEntries = map[Service]ServiceEntry{
	ServiceCIPAPI: {
		URLTemplate:  "https://cipapi.genomicsengland.nhs.uk/api/2/{endpoint}",
		RequiresAuth: true,
		JSONHeaders:  true,
	},
	ServiceCIPAPIForReport: {
		URLTemplate:  "https://cipapi.genomicsengland.nhs.uk/api/{endpoint}",
		RequiresAuth: true,
		JSONHeaders:  true,
	},
	ServicePanelApp: {
		URLTemplate: "https://panelapp.genomicsengland.co.uk/WebServices/{endpoint}",
	},
	ServiceEnsembl: {
		URLTemplate: "https://rest.ensembl.org/{endpoint}",
		JSONHeaders: true,
	},
	ServiceMutalyzer: {
		URLTemplate: "https://mutalyzer.nl/json/{endpoint}",
	},
	ServiceGeneNames: {
		URLTemplate: "https://rest.genenames.org/{endpoint}",
		JSONHeaders: true,
	},
}

// activeDirectoryCIPAPI is the CIP-API deployment that accepts Azure AD tokens
const activeDirectoryCIPAPI = "https://cipapi-gms-beta.genomicsengland.nhs.uk/api/2/{endpoint}"

// Registry is the static lookup table of services
type Registry struct {
	entries map[Service]ServiceEntry
}

// NewRegistry builds the registry. Overrides map a service name to a base URL that
// replaces everything before the endpoint.
func NewRegistry(useActiveDirectory bool, overrides map[string]string) (*Registry, error) {
	entries := make(map[Service]ServiceEntry, len(defaultEntries))
	for s, e := range defaultEntries {
		entries[s] = e
	}

	if useActiveDirectory {
		e := entries[ServiceCIPAPI]
		e.URLTemplate = activeDirectoryCIPAPI
		entries[ServiceCIPAPI] = e
	}

	for name, base := range overrides {
		s, err := ParseService(name)
		if err != nil {
			return nil, err
		}
		e := entries[s]
		e.URLTemplate = strings.TrimRight(base, "/") + "/" + endpointPlaceholder
		entries[s] = e
	}

	return &Registry{entries: entries}, nil
}

// ParseService validates a service name
func ParseService(name string) (Service, error) {
	s := Service(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := defaultEntries[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return s, nil
}

// Services lists the registered service names in a stable order
func (r *Registry) Services() []Service {
	out := make([]Service, 0, len(r.entries))
	for s := range r.entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entry returns the registry entry for a service
func (r *Registry) Entry(s Service) (ServiceEntry, error) {
	e, ok := r.entries[s]
	if !ok {
		return ServiceEntry{}, fmt.Errorf("%w: %q", ErrUnknownService, s)
	}
	return e, nil
}

// Resolve formats the URL for an endpoint of a service
func (r *Registry) Resolve(s Service, endpoint string) (string, ServiceEntry, error) {
	e, err := r.Entry(s)
	if err != nil {
		return "", ServiceEntry{}, err
	}
	return strings.Replace(e.URLTemplate, endpointPlaceholder, strings.TrimLeft(endpoint, "/"), 1), e, nil
}

// BaseURL is the URL of the service with an empty endpoint
func (r *Registry) BaseURL(s Service) (string, error) {
	u, _, err := r.Resolve(s, "")
	return u, err
}
