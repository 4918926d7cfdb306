package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Collection names shared by the local mirror and the remote document store.
const (
	CollectionProjects     = "projects"
	CollectionTools        = "tools"
	CollectionTestimonials = "testimonials"
	CollectionFAQs         = "faqs"
	CollectionVisits       = "visits"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRecord indicates a submission missing required fields or carrying malformed values.
	ErrInvalidRecord = errors.New("content: invalid record")
	// ErrUnknownCollection indicates a collection name outside the supported set.
	ErrUnknownCollection = errors.New("content: unknown collection")
	// ErrEphemeralAsset indicates a record referencing a session-only asset URL.
	ErrEphemeralAsset = errors.New("content: ephemeral asset url")
	// ErrNotFound indicates a missing record or singleton.
	ErrNotFound = errors.New("content: not found")
)

// EditableCollections lists the collections the admin console writes to.
func EditableCollections() []string {
	return []string{CollectionProjects, CollectionTools, CollectionTestimonials, CollectionFAQs}
}

// IsEditable reports whether collection accepts admin upserts and deletes.
func IsEditable(collection string) bool {
	for _, candidate := range EditableCollections() {
		if candidate == collection {
			return true
		}
	}
	return false
}

// Stamp carries the identity assigned to a record at submit time.
type Stamp struct {
	ID        string
	CreatedAt int64
}

// Record is a validated content value ready for the sync layer.
type Record interface {
	Collection() string
	RecordID() string
	CreatedAtMillis() int64
	AssetURLs() []string
}

// Document is the storage form of a record: identity, ordering key and the JSON payload.
type Document struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// NewDocument encodes record into its storage form.
func NewDocument(record Record) (Document, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return Document{}, fmt.Errorf("content: encode %s/%s: %w", record.Collection(), record.RecordID(), err)
	}
	return Document{ID: record.RecordID(), CreatedAt: record.CreatedAtMillis(), Payload: payload}, nil
}

type Project struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	ImageURL    string   `json:"imageUrl"`
	VideoURL    string   `json:"videoUrl"`
	Link        string   `json:"link"`
	Tags        []string `json:"tags"`
	CreatedAt   int64    `json:"createdAt"`
}

func (p Project) Collection() string { return CollectionProjects }
func (p Project) RecordID() string { return p.ID }
func (p Project) CreatedAtMillis() int64 { return p.CreatedAt }
func (p Project) AssetURLs() []string { return []string{p.ImageURL, p.VideoURL} }

type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IconURL     string `json:"iconUrl"`
	Link        string `json:"link"`
	CreatedAt   int64  `json:"createdAt"`
}

func (t Tool) Collection() string { return CollectionTools }
func (t Tool) RecordID() string { return t.ID }
func (t Tool) CreatedAtMillis() int64 { return t.CreatedAt }
func (t Tool) AssetURLs() []string { return []string{t.IconURL} }

type Testimonial struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Role      string `json:"role"`
	Quote     string `json:"quote"`
	AvatarURL string `json:"avatarUrl"`
	CreatedAt int64  `json:"createdAt"`
}

func (t Testimonial) Collection() string { return CollectionTestimonials }
func (t Testimonial) RecordID() string { return t.ID }
func (t Testimonial) CreatedAtMillis() int64 { return t.CreatedAt }
func (t Testimonial) AssetURLs() []string { return []string{t.AvatarURL} }

type FAQ struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	CreatedAt int64  `json:"createdAt"`
}

func (f FAQ) Collection() string { return CollectionFAQs }
func (f FAQ) RecordID() string { return f.ID }
func (f FAQ) CreatedAtMillis() int64 { return f.CreatedAt }
func (f FAQ) AssetURLs() []string { return nil }

// Visit is an append-only page view.
type Visit struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Referrer  string `json:"referrer"`
	CreatedAt int64  `json:"createdAt"`
}

func (v Visit) Collection() string { return CollectionVisits }
func (v Visit) RecordID() string { return v.ID }
func (v Visit) CreatedAtMillis() int64 { return v.CreatedAt }
func (v Visit) AssetURLs() []string { return nil }

// SiteIdentity is the singleton describing the portfolio owner.
type SiteIdentity struct {
	Name      string            `json:"name"`
	Title     string            `json:"title"`
	Tagline   string            `json:"tagline"`
	Bio       string            `json:"bio"`
	Email     string            `json:"email"`
	AvatarURL string            `json:"avatarUrl"`
	LogoURL   string            `json:"logoUrl"`
	ResumeURL string            `json:"resumeUrl"`
	Socials   map[string]string `json:"socials"`
}

// AssetURLs lists every URL field, including social links.
func (s SiteIdentity) AssetURLs() []string {
	urls := []string{s.AvatarURL, s.LogoURL, s.ResumeURL}
	for _, link := range s.Socials {
		urls = append(urls, link)
	}
	return urls
}

// Validate checks required identity fields and URL shapes.
func (s SiteIdentity) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if s.Email != "" && !strings.Contains(s.Email, "@") {
		return fmt.Errorf("%w: email is malformed", ErrInvalidRecord)
	}
	return validateURLs(s.AssetURLs())
}

// ProjectInput is the form-boundary builder for projects.
type ProjectInput struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	ImageURL    string   `json:"imageUrl"`
	VideoURL    string   `json:"videoUrl"`
	Link        string   `json:"link"`
	Tags        []string `json:"tags"`
	CreatedAt   int64    `json:"createdAt"`
}

// Build validates the input and returns an immutable Project.
func (in ProjectInput) Build(stamp Stamp) (Project, error) {
	id, createdAt, err := resolveStamp(in.ID, in.CreatedAt, stamp)
	if err != nil {
		return Project{}, err
	}
	if err := requireFields(map[string]string{"title": in.Title}); err != nil {
		return Project{}, err
	}
	project := Project{
		ID:          id,
		Title:       strings.TrimSpace(in.Title),
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		ImageURL:    strings.TrimSpace(in.ImageURL),
		VideoURL:    strings.TrimSpace(in.VideoURL),
		Link:        strings.TrimSpace(in.Link),
		Tags:        normalizeTags(in.Tags),
		CreatedAt:   createdAt,
	}
	if err := validateURLs(append(project.AssetURLs(), project.Link)); err != nil {
		return Project{}, err
	}
	return project, nil
}

// ToolInput is the form-boundary builder for tools.
type ToolInput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IconURL     string `json:"iconUrl"`
	Link        string `json:"link"`
	CreatedAt   int64  `json:"createdAt"`
}

func (in ToolInput) Build(stamp Stamp) (Tool, error) {
	id, createdAt, err := resolveStamp(in.ID, in.CreatedAt, stamp)
	if err != nil {
		return Tool{}, err
	}
	if err := requireFields(map[string]string{"name": in.Name}); err != nil {
		return Tool{}, err
	}
	tool := Tool{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		IconURL:     strings.TrimSpace(in.IconURL),
		Link:        strings.TrimSpace(in.Link),
		CreatedAt:   createdAt,
	}
	if err := validateURLs([]string{tool.IconURL, tool.Link}); err != nil {
		return Tool{}, err
	}
	return tool, nil
}

// TestimonialInput is the form-boundary builder for testimonials.
type TestimonialInput struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Role      string `json:"role"`
	Quote     string `json:"quote"`
	AvatarURL string `json:"avatarUrl"`
	CreatedAt int64  `json:"createdAt"`
}

func (in TestimonialInput) Build(stamp Stamp) (Testimonial, error) {
	id, createdAt, err := resolveStamp(in.ID, in.CreatedAt, stamp)
	if err != nil {
		return Testimonial{}, err
	}
	if err := requireFields(map[string]string{"author": in.Author, "quote": in.Quote}); err != nil {
		return Testimonial{}, err
	}
	testimonial := Testimonial{
		ID:        id,
		Author:    strings.TrimSpace(in.Author),
		Role:      strings.TrimSpace(in.Role),
		Quote:     strings.TrimSpace(in.Quote),
		AvatarURL: strings.TrimSpace(in.AvatarURL),
		CreatedAt: createdAt,
	}
	if err := validateURLs(testimonial.AssetURLs()); err != nil {
		return Testimonial{}, err
	}
	return testimonial, nil
}

// FAQInput is the form-boundary builder for FAQ entries.
type FAQInput struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	CreatedAt int64  `json:"createdAt"`
}

func (in FAQInput) Build(stamp Stamp) (FAQ, error) {
	id, createdAt, err := resolveStamp(in.ID, in.CreatedAt, stamp)
	if err != nil {
		return FAQ{}, err
	}
	if err := requireFields(map[string]string{"question": in.Question, "answer": in.Answer}); err != nil {
		return FAQ{}, err
	}
	return FAQ{
		ID:        id,
		Question:  strings.TrimSpace(in.Question),
		Answer:    strings.TrimSpace(in.Answer),
		CreatedAt: createdAt,
	}, nil
}

// DecodeRecord parses a JSON submission for collection through the matching builder.
func DecodeRecord(collection string, body []byte, stamp Stamp) (Record, error) {
	switch collection {
	case CollectionProjects:
		var in ProjectInput
		if err := decodeInput(body, &in); err != nil {
			return nil, err
		}
		return in.Build(stamp)
	case CollectionTools:
		var in ToolInput
		if err := decodeInput(body, &in); err != nil {
			return nil, err
		}
		return in.Build(stamp)
	case CollectionTestimonials:
		var in TestimonialInput
		if err := decodeInput(body, &in); err != nil {
			return nil, err
		}
		return in.Build(stamp)
	case CollectionFAQs:
		var in FAQInput
		if err := decodeInput(body, &in); err != nil {
			return nil, err
		}
		return in.Build(stamp)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
}

func decodeInput(body []byte, dest any) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

func resolveStamp(id string, createdAt int64, stamp Stamp) (string, int64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = stamp.ID
	}
	if id == "" {
		return "", 0, fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if len(id) > maxIdentifierLength {
		return "", 0, fmt.Errorf("%w: id exceeds %d characters", ErrInvalidRecord, maxIdentifierLength)
	}
	if createdAt <= 0 {
		if parsed, err := strconv.ParseInt(id, 10, 64); err == nil && parsed > 0 {
			createdAt = parsed
		}
	}
	if createdAt <= 0 {
		createdAt = stamp.CreatedAt
	}
	if createdAt <= 0 {
		return "", 0, fmt.Errorf("%w: createdAt is required", ErrInvalidRecord)
	}
	return id, createdAt, nil
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidRecord, name)
		}
	}
	return nil
}

func validateURLs(values []string) error {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		parsed, err := url.Parse(value)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("%w: malformed url %q", ErrInvalidRecord, value)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%w: unsupported url scheme %q", ErrInvalidRecord, parsed.Scheme)
		}
	}
	return nil
}

func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(tag)]; ok {
			continue
		}
		seen[strings.ToLower(tag)] = struct{}{}
		normalized = append(normalized, tag)
	}
	return normalized
}
