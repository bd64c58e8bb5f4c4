package core

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eteran/stash/pkg/storage"
)

// rootProperties returns the properties of the synthetic root collection.
func rootProperties() DavProperties {
	return DavProperties{
		ResourceType: &ResourceType{Collection: &struct{}{}},
	}
}

// entryProperties projects an Entry into its rendered live properties.
func entryProperties(e *storage.Entry) DavProperties {
	props := DavProperties{
		DisplayName:        e.ContentDisposition,
		GetContentLanguage: e.ContentLanguage,
		GetContentLength:   strconv.FormatInt(e.Size, 10),
		GetContentType:     e.ContentType,
		GetETag:            e.ETag,
		ResourceType:       &ResourceType{},
	}

	if !e.UploadedAt.IsZero() {
		props.CreationDate = e.UploadedAt.UTC().Format(time.RFC3339)
		props.GetLastModified = e.UploadedAt.UTC().Format(http.TimeFormat)
	}

	if e.IsCollection() {
		props.ResourceType.Collection = &struct{}{}
	}

	return props
}

// addEntry appends the PROPFIND response for e to ms.
func (ms *Multistatus) addEntry(e *storage.Entry) {
	ms.Add(ResourcePath(e.Key).Href(e.IsCollection()), entryProperties(e))
}
