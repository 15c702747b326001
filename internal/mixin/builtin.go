package mixin

import (
	"fmt"
	"strconv"
	"strings"

	"notice-engine/internal/notice"
)

// Builtin returns the catalog of mixins shipped with the engine.
func Builtin() Catalog {
	return Catalog{
		"context":     newContextMixin,
		"banner-diet": newBannerDiet,
		"device-gate": newDeviceGate,
	}
}

// contextMixin exposes the allocation context as magic words.
type contextMixin struct {
	alloc notice.AllocationContext
}

func newContextMixin(_ notice.MixinConfig, alloc notice.AllocationContext) (Mixin, error) {
	return &contextMixin{alloc: alloc}, nil
}

func (m *contextMixin) Name() string      { return "context" }
func (m *contextMixin) PreloadJS() string { return "" }
func (m *contextMixin) Modules() []Module { return nil }

func (m *contextMixin) MagicWords() []string {
	return []string{"country", "language", "project", "device", "bucket", "anonymous"}
}

func (m *contextMixin) RenderMagicWord(word string, _ []string) (string, bool) {
	switch word {
	case "country":
		return m.alloc.Country, true
	case "language":
		return m.alloc.Language, true
	case "project":
		return m.alloc.Project, true
	case "device":
		return m.alloc.Device, true
	case "bucket":
		return strconv.Itoa(m.alloc.Bucket), true
	case "anonymous":
		return strconv.FormatBool(m.alloc.Anonymous), true
	}
	return "", false
}

// bannerDiet hides a banner after a number of impressions, counted client-side.
type bannerDiet struct {
	cap    int
	cookie string
}

const defaultDietCap = 5

func newBannerDiet(cfg notice.MixinConfig, _ notice.AllocationContext) (Mixin, error) {
	m := &bannerDiet{cap: defaultDietCap, cookie: "centralnotice_banner_count"}
	if v, ok := cfg.Params["cap"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("cap must be a positive integer, got %q", v)
		}
		m.cap = n
	}
	if v := cfg.Params["cookie"]; v != "" {
		m.cookie = v
	}
	return m, nil
}

func (m *bannerDiet) Name() string { return "banner-diet" }

func (m *bannerDiet) PreloadJS() string {
	return fmt.Sprintf("mw.centralNotice.bannerDiet.allow(%s, {{{diet-cap}}})", strconv.Quote(m.cookie))
}

func (m *bannerDiet) Modules() []Module {
	return []Module{{Name: "ext.centralNotice.bannerDiet", Params: "ext.centralNotice.bannerDiet"}}
}

func (m *bannerDiet) MagicWords() []string { return []string{"diet-cap"} }

func (m *bannerDiet) RenderMagicWord(word string, _ []string) (string, bool) {
	if word == "diet-cap" {
		return strconv.Itoa(m.cap), true
	}
	return "", false
}

// deviceGate only lets a banner through on one device class.
type deviceGate struct {
	device string
	active bool
}

func newDeviceGate(cfg notice.MixinConfig, alloc notice.AllocationContext) (Mixin, error) {
	device := strings.ToLower(cfg.Params["device"])
	if device == "" {
		return nil, fmt.Errorf("device parameter is required")
	}
	return &deviceGate{device: device, active: alloc.Device == device}, nil
}

func (m *deviceGate) Name() string { return "device-gate" }

func (m *deviceGate) PreloadJS() string {
	if !m.active {
		return ""
	}
	return fmt.Sprintf("mw.centralNotice.data.device === %s", strconv.Quote(m.device))
}

func (m *deviceGate) Modules() []Module {
	if !m.active {
		return nil
	}
	return []Module{{Name: "ext.centralNotice.deviceGate", Params: "ext.centralNotice.deviceGate"}}
}

func (m *deviceGate) MagicWords() []string { return []string{"gated-device"} }

func (m *deviceGate) RenderMagicWord(word string, _ []string) (string, bool) {
	if word == "gated-device" {
		return m.device, true
	}
	return "", false
}
