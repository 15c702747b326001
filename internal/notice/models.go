package notice

import (
	"fmt"
	"strings"
	"time"
)

// Banner as seen by the renderer. Loaded once per render, never mutated.
type Banner struct {
	ID     int64
	Name   string
	Mixins []MixinConfig
	Fields []string // declared message fields, in declaration order
}

// MixinConfig names one mixin enabled on a banner plus its settings.
type MixinConfig struct {
	Name   string            `json:"name" yaml:"name"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// DBKey is the message key holding the banner body.
func (b *Banner) DBKey() string { return "Centralnotice-template-" + b.Name }

// MessageField returns the named field, or a FieldError when the banner does not declare it.
func (b *Banner) MessageField(name string) (MessageField, error) {
	for _, f := range b.Fields {
		if f == name {
			return MessageField{Banner: b.Name, Name: name}, nil
		}
	}
	return MessageField{}, &FieldError{Banner: b.Name, Field: name}
}

// MessageField is a translatable piece of a banner.
type MessageField struct {
	Banner string
	Name   string
}

func (f MessageField) Key() string { return "Centralnotice-" + f.Banner + "-" + f.Name }

// AllocationContext is the resolved delivery context of one render.
type AllocationContext struct {
	Country   string `json:"country"`
	Language  string `json:"language"`
	Project   string `json:"project"`
	Anonymous bool   `json:"anonymous"`
	Device    string `json:"device"`
	Bucket    int    `json:"bucket"`
}

// PreviewContext is used when a banner is rendered outside a live campaign.
func PreviewContext() AllocationContext {
	return NewAllocationContext("XX", "en", "wikipedia", true, "desktop", 0)
}

// NewAllocationContext canonicalises codes the same way the targeting tables store them.
func NewAllocationContext(country, language, project string, anonymous bool, device string, bucket int) AllocationContext {
	return AllocationContext{
		Country:   strings.ToUpper(strings.TrimSpace(country)),
		Language:  strings.ToLower(strings.TrimSpace(language)),
		Project:   strings.ToLower(strings.TrimSpace(project)),
		Anonymous: anonymous,
		Device:    strings.ToLower(strings.TrimSpace(device)),
		Bucket:    bucket,
	}
}

func (a AllocationContext) String() string {
	return fmt.Sprintf("%s/%s/%s/anon=%t/%s/%d", a.Country, a.Language, a.Project, a.Anonymous, a.Device, a.Bucket)
}

// User is the acting administrator. IDs <= 0 are anonymous or scripted callers.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// NewCampaign is the input of campaign creation.
type NewCampaign struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Start     time.Time `json:"start"`
	Projects  []string  `json:"projects"`
	Languages []string  `json:"languages"`
	Geo       bool      `json:"geo"`
	Countries []string  `json:"countries"`
}

// Assignment is a banner's weight and bucket inside a campaign.
type Assignment struct {
	Banner string `json:"banner"`
	Weight int    `json:"weight"`
	Bucket int    `json:"bucket"`
}

// CampaignSettings is the snapshot used both by the admin API and the change log.
type CampaignSettings struct {
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Enabled   bool         `json:"enabled"`
	Preferred int          `json:"preferred"`
	Locked    bool         `json:"locked"`
	Geo       bool         `json:"geo"`
	Buckets   int          `json:"buckets"`
	Projects  []string     `json:"projects,omitempty"`
	Languages []string     `json:"languages,omitempty"`
	Countries []string     `json:"countries,omitempty"`
	Banners   []Assignment `json:"banners,omitempty"`
}

// Campaign is the delivery-side view: targeting plus assignments.
type Campaign struct {
	ID        int64
	Name      string
	Start     time.Time
	End       time.Time
	Enabled   bool
	Preferred int
	Geo       bool
	Buckets   int
	Projects  []string
	Languages []string
	Countries []string
	Banners   []Assignment
}

// CampaignFilter narrows List. Empty fields match everything, except Country:
// without it only non geo-targeted campaigns are returned.
type CampaignFilter struct {
	Project     string
	Language    string
	Country     string
	Date        time.Time
	EnabledOnly bool
}

// LogQuery filters the change log.
type LogQuery struct {
	Campaign string
	UserID   int64
	Start    time.Time
	End      time.Time
	Limit    int
	Offset   int
}

// LogEntry is one row of the campaign change log.
type LogEntry struct {
	ID           int64             `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	UserID       int64             `json:"user_id"`
	Action       string            `json:"action"`
	CampaignID   int64             `json:"campaign_id"`
	CampaignName string            `json:"campaign"`
	Begin        *CampaignSettings `json:"begin,omitempty"`
	End          *CampaignSettings `json:"end,omitempty"`
	Changes      map[string]Change `json:"changes,omitempty"`
}

// Change is one field that differs between the before and after snapshots.
type Change struct {
	Old string `json:"old"`
	New string `json:"new"`
}

const (
	ActionCreated  = "created"
	ActionModified = "modified"
	ActionRemoved  = "removed"
)
