package core

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/eteran/stash/pkg/storage"
)

// patchState is the position of the PROPPATCH parser within the document.
type patchState int

const (
	patchIdle patchState = iota
	patchInSet
	patchInRemove
	patchInProp
)

// PropertyUpdate is a parsed PROPPATCH instruction set. Names holds every
// touched property in document order, without duplicates.
type PropertyUpdate struct {
	Set    map[string]string
	Remove []string
	Names  []xml.Name
}

func (u *PropertyUpdate) touch(name xml.Name) {
	for _, n := range u.Names {
		if n == name {
			return
		}
	}
	u.Names = append(u.Names, name)
}

// ParsePropertyUpdate reads a propertyupdate document. Properties are keyed by
// local name; their namespace is kept only for the response.
func ParsePropertyUpdate(r io.Reader) (*PropertyUpdate, error) {
	u := &PropertyUpdate{Set: map[string]string{}}

	var (
		state   = patchIdle
		setting bool
		prop    xml.Name
		depth   int
		text    strings.Builder
	)

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return u, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse propertyupdate: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch state {
			case patchIdle:
				switch t.Name.Local {
				case "set":
					state, setting = patchInSet, true
				case "remove":
					state, setting = patchInRemove, false
				}
			case patchInSet, patchInRemove:
				if t.Name.Local != "prop" {
					prop, depth = t.Name, 0
					text.Reset()
					state = patchInProp
				}
			case patchInProp:
				depth++
			}

		case xml.CharData:
			if state == patchInProp {
				text.Write(t)
			}

		case xml.EndElement:
			switch state {
			case patchInProp:
				if depth > 0 {
					depth--
					continue
				}
				if setting {
					u.Set[prop.Local] = strings.TrimSpace(text.String())
					state = patchInSet
				} else {
					delete(u.Set, prop.Local)
					u.Remove = append(u.Remove, prop.Local)
					state = patchInRemove
				}
				u.touch(prop)
			case patchInSet, patchInRemove:
				if t.Name.Local == "set" || t.Name.Local == "remove" {
					state = patchIdle
				}
			}
		}
	}
}

// Apply merges the update into metadata and returns the result. The input is
// not modified. The collection marker cannot be changed.
func (u *PropertyUpdate) Apply(metadata map[string]string) map[string]string {
	merged := storage.CloneMetadata(metadata)
	for _, name := range u.Remove {
		if name != storage.ResourceTypeKey {
			delete(merged, name)
		}
	}
	for name, value := range u.Set {
		if name != storage.ResourceTypeKey {
			merged[name] = value
		}
	}
	return merged
}

// handleProppatch stores dead properties in the entry's custom metadata. The
// body is rewritten unchanged.
func (s *Server) handleProppatch(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	p, _ := ParsePath(r.URL.Path)
	if p.IsRoot() {
		writeError(w, http.StatusForbidden)
		return nil
	}

	obj, err := s.store().Get(ctx, p.Key(), storage.GetOptions{})
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound)
		return nil
	}
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	update, err := ParsePropertyUpdate(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}

	_, err = s.store().Put(ctx, p.Key(), obj.Body, obj.Size, storage.PutOptions{
		HTTPMetadata: obj.HTTPMetadata,
		Metadata:     update.Apply(obj.Metadata),
	})
	if err != nil {
		return err
	}

	ms := NewMultistatus()
	for _, name := range update.Names {
		ms.Add(p.Href(obj.IsCollection()), PropNames{name})
	}

	return writeMultistatus(w, ms)
}
