package muprovider

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/function61/gokit/assert"
)

func TestSplitBasePath(t *testing.T) {
	bucket, prefix := splitBasePath("mybucket/muisto")
	assert.EqualString(t, bucket, "mybucket")
	assert.EqualString(t, prefix, "muisto")

	bucket, prefix = splitBasePath("justbucket")
	assert.EqualString(t, bucket, "justbucket")
	assert.EqualString(t, prefix, "")

	bucket, prefix = splitBasePath("bucket/deep/prefix/")
	assert.EqualString(t, bucket, "bucket")
	assert.EqualString(t, prefix, "deep/prefix")

	bucket, _ = splitBasePath("")
	assert.EqualString(t, bucket, "")
}

func TestKeyMapping(t *testing.T) {
	p := &s3Provider{bucket: "b", prefix: "muisto"}

	assert.EqualString(t, p.key("/App/journal/r1.json"), "muisto/App/journal/r1.json")
	assert.EqualString(t, p.pathFromKey("muisto/App/journal/r1.json"), "/App/journal/r1.json")

	noPrefix := &s3Provider{bucket: "b"}
	assert.EqualString(t, noPrefix.key("/r1"), "r1")
	assert.EqualString(t, noPrefix.pathFromKey("r1"), "/r1")
}

func TestTrimETag(t *testing.T) {
	assert.EqualString(t, trimETag(aws.String(`"abc123"`)), "abc123")
	assert.EqualString(t, trimETag(nil), "")
}
