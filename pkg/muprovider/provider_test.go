package muprovider

import (
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

func TestSplitPath(t *testing.T) {
	assert.EqualString(t, strings.Join(SplitPath("/App/journal/r1.json"), "|"), "App|journal|r1.json")
	assert.EqualString(t, strings.Join(SplitPath("App/journal/"), "|"), "App|journal")
	assert.Assert(t, len(SplitPath("/")) == 0)
	assert.Assert(t, len(SplitPath("")) == 0)
}

func TestParentAndLeaf(t *testing.T) {
	parent, leaf := ParentAndLeaf("/App/journal/r1.json")
	assert.EqualString(t, parent, "/App/journal")
	assert.EqualString(t, leaf, "r1.json")

	parent, leaf = ParentAndLeaf("/r1.json")
	assert.EqualString(t, parent, "/")
	assert.EqualString(t, leaf, "r1.json")

	parent, leaf = ParentAndLeaf("/")
	assert.EqualString(t, parent, "/")
	assert.EqualString(t, leaf, "")
}

func TestForConnectionUnconfigured(t *testing.T) {
	// OAuth app secrets missing
	_, err := ForConnection(&mutypes.Connection{Kind: mutypes.ProviderKindGoogleDrive}, OAuthAppConfig{}, nil)
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorConfiguration))

	// credential family without credentials
	_, err = ForConnection(&mutypes.Connection{Kind: mutypes.ProviderKindS3}, OAuthAppConfig{}, nil)
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorConfiguration))

	_, err = ForConnection(&mutypes.Connection{Kind: "dropbox"}, OAuthAppConfig{}, nil)
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorConfiguration))
}
