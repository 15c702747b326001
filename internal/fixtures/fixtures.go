// Package fixtures loads banners and their messages from YAML files, for
// rendering without a database.
package fixtures

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"notice-engine/internal/messages"
	"notice-engine/internal/notice"
)

// File is the YAML layout of one fixture file.
//
//	banners:
//	  - name: Spring
//	    fields: [headline]
//	    mixins:
//	      - name: banner-diet
//	        params: {cap: "3"}
//	    messages:
//	      en: {body: "{{{headline}}}", headline: Donate}
//	messages:
//	  centralnotice-preview: {en: Preview}
type File struct {
	Banners  []BannerDef                 `yaml:"banners"`
	Messages map[string]map[string]string `yaml:"messages"` // key -> lang -> text
}

type BannerDef struct {
	Name   string               `yaml:"name"`
	Fields []string             `yaml:"fields"`
	Mixins []notice.MixinConfig `yaml:"mixins"`
	// Messages maps lang -> field -> text. The field "body" is the banner body.
	Messages map[string]map[string]string `yaml:"messages"`
}

// Set is a collection of banners with an in-memory message store.
type Set struct {
	banners map[string]*notice.Banner
	order   []string
	msgs    *messages.Memory
}

// Load reads the given files in order. A banner defined again in a later
// file replaces the earlier definition; messages are merged.
func Load(paths ...string) (*Set, error) {
	s := &Set{banners: map[string]*notice.Banner{}, msgs: messages.NewMemory()}
	for _, p := range paths {
		var f File
		if err := decodeFile(p, &f); err != nil {
			return nil, err
		}
		if err := s.add(f); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return s, nil
}

func decodeFile(path string, out *File) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixture %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return nil
}

func (s *Set) add(f File) error {
	for _, def := range f.Banners {
		if def.Name == "" {
			return fmt.Errorf("banner without a name")
		}
		b := &notice.Banner{Name: def.Name, Fields: def.Fields, Mixins: def.Mixins}
		if old, ok := s.banners[def.Name]; ok {
			b.ID = old.ID
		} else {
			s.order = append(s.order, def.Name)
			b.ID = int64(len(s.order))
		}
		s.banners[def.Name] = b

		for lang, fields := range def.Messages {
			for field, text := range fields {
				if field == "body" {
					s.msgs.Set(b.DBKey(), lang, text)
					continue
				}
				mf := notice.MessageField{Banner: b.Name, Name: field}
				s.msgs.Set(mf.Key(), lang, text)
			}
		}
	}
	for key, langs := range f.Messages {
		for lang, text := range langs {
			s.msgs.Set(key, lang, text)
		}
	}
	return nil
}

// Banner returns the named banner.
func (s *Set) Banner(_ context.Context, name string) (*notice.Banner, error) {
	b, ok := s.banners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", notice.ErrBannerNotFound, name)
	}
	return b, nil
}

// Names lists the banners in the order they were first defined.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

func (s *Set) Messages() *messages.Memory { return s.msgs }
