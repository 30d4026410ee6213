// Package routing decides where a meeting's assets go based on its owner and topic
package routing

import (
	"strings"

	"github.com/curtbushko/zoom-watchman/internal/brands"
	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/policy"
)

// Kind tags a routing decision
type Kind int

const (
	// KindSkip means the meeting is never processed
	KindSkip Kind = iota
	// KindStandard routes to a brand's member and internal folders
	KindStandard
	// KindSpecial routes every artifact into one subfolder under the owner's parent folder
	KindSpecial
	// KindUnresolved means a brand was named but has no usable destination
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindSpecial:
		return "special"
	case KindUnresolved:
		return "unresolved"
	default:
		return "skip"
	}
}

// Decision is the result of resolving one meeting
type Decision struct {
	Kind      Kind
	BrandName string
	Reason    string

	// Standard routing
	Destination  brands.Destination
	InternalOnly bool

	// Special routing
	ParentFolderID string
	FolderName     string
}

// Reason strings for skips and failures
const (
	ReasonIgnoredOwner    = "owner is ignore-listed"
	ReasonSpecialMismatch = "special-routing topic is missing the separator or marker"
	ReasonIgnoredTopic    = "topic is ignore-listed"
	ReasonOneOnOne        = "topic is a 1:1"
	ReasonNoSeparator     = "topic has no brand separator"
	ReasonBrandNotFound   = "Brand not found in ClickUp."
)

// Resolver maps (owner, topic) to a Decision against one policy snapshot and one brand directory
type Resolver struct {
	cfg       config.RoutingConfig
	policy    *policy.Snapshot
	directory *brands.Directory
}

// NewResolver creates a resolver. A nil directory resolves no brands.
func NewResolver(cfg config.RoutingConfig, snapshot *policy.Snapshot, directory *brands.Directory) *Resolver {
	if snapshot == nil {
		snapshot = policy.NewSnapshot(policy.File{})
	}
	if directory == nil {
		directory = brands.NewDirectory(nil)
	}
	return &Resolver{cfg: cfg, policy: snapshot, directory: directory}
}

// Resolve decides the routing for one meeting. It has no side effects.
func (r *Resolver) Resolve(owner, topic string) Decision {
	if r.policy.IsIgnoredOwner(owner) {
		return skip(ReasonIgnoredOwner)
	}

	if parent, ok := r.policy.SpecialParent(owner); ok {
		if !strings.Contains(topic, r.cfg.Separator) || !strings.Contains(topic, r.cfg.SpecialMarker) {
			return skip(ReasonSpecialMismatch)
		}
		return Decision{
			Kind:           KindSpecial,
			BrandName:      r.cfg.SpecialBrandLabel,
			ParentFolderID: parent,
			FolderName:     SpecialFolderName(topic),
		}
	}

	if ignored, ok := r.policy.IgnoredTopic(topic); ok {
		return skip(ReasonIgnoredTopic + ": " + ignored)
	}
	if strings.Contains(topic, r.cfg.OneOnOneMarker) {
		return skip(ReasonOneOnOne)
	}

	brand, ok := r.BrandFromTopic(topic)
	if !ok {
		return skip(ReasonNoSeparator)
	}

	dest, found := r.directory.Resolve(brand)
	if !found || dest.InternalFolderID == "" {
		return Decision{Kind: KindUnresolved, BrandName: brand, Reason: ReasonBrandNotFound}
	}

	return Decision{
		Kind:         KindStandard,
		BrandName:    brand,
		Destination:  dest,
		InternalOnly: r.policy.IsInternalOnly(owner),
	}
}

// BrandFromTopic extracts the brand name from "A x B - detail". When the second
// part is a scale session the first part names the brand.
func (r *Resolver) BrandFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, r.cfg.Separator)
	if len(parts) < 2 {
		return "", false
	}

	if strings.Contains(parts[1], r.cfg.ScaleSessionMarker) {
		return strings.TrimSpace(parts[0]), true
	}
	brand, _, _ := strings.Cut(parts[1], "-")
	return strings.TrimSpace(brand), true
}

// SpecialFolderName is the subfolder name used for special routing
func SpecialFolderName(topic string) string {
	return strings.NewReplacer(":", " ", "/", " ").Replace(topic)
}

func skip(reason string) Decision {
	return Decision{Kind: KindSkip, Reason: reason}
}
