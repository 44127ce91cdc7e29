package gdrive

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(documentXML))
	require.NoError(t, err)

	other, err := w.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = other.Write([]byte(`<Types/>`))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractOpenXML(t *testing.T) {
	const docXML = `<w:document><w:body><w:p><w:r><w:t>Hello</w:t></w:r></w:p></w:body></w:document>`
	docx := buildDOCX(t, docXML)

	got, err := ExtractOpenXML(docx)
	require.NoError(t, err)
	assert.Equal(t, docXML, got)
}

func TestExtractOpenXMLMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/styles.xml")
	require.NoError(t, err)
	_, _ = f.Write([]byte(`<w:styles/>`))
	require.NoError(t, w.Close())

	_, err = ExtractOpenXML(buf.Bytes())
	assert.Error(t, err)
}

func TestExtractOpenXMLNotAZip(t *testing.T) {
	_, err := ExtractOpenXML([]byte("plain text, not a zip"))
	assert.Error(t, err)
}

func TestOpenXMLToText(t *testing.T) {
	const docXML = `<w:document><w:body>` +
		`<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>` +
		`</w:body></w:document>`

	text := OpenXMLToText(docXML)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", text)
}

func TestContentStreamText(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf (revenue grew) Tj (18% in Q3) Tj ET`)
	text := contentStreamText(stream)
	assert.Contains(t, text, "revenue grew")
	assert.Contains(t, text, "18% in Q3")
}

func TestMimeClassification(t *testing.T) {
	assert.True(t, IsSupported(MimeGoogleDoc))
	assert.True(t, IsSupported(MimePDF))
	assert.False(t, IsSupported("image/png"))
	assert.False(t, IsSupported(MimeFolder))

	assert.True(t, IsGoogleNative(MimeGoogleSheet))
	assert.False(t, IsGoogleNative(MimeDOCX))

	assert.True(t, HasOpenXMLStructure(MimeDOCX))
	assert.True(t, HasOpenXMLStructure(MimeGoogleDoc))
	assert.False(t, HasOpenXMLStructure(MimePDF))
}
