package gdrive

// Google Drive MIME types the sync worker understands.
const (
	MimeFolder = "application/vnd.google-apps.folder"

	// Google-native editors.
	MimeGoogleDoc   = "application/vnd.google-apps.document"
	MimeGoogleSheet = "application/vnd.google-apps.spreadsheet"
	MimeGoogleSlide = "application/vnd.google-apps.presentation"

	// Uploaded binaries.
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	MimeExportPDF = "application/pdf"
)

// officeToNativeMime maps Office uploads to the Google editor type used
// for the server-side conversion copy before PDF export.
var officeToNativeMime = map[string]string{
	MimeDOCX: MimeGoogleDoc,
	MimePPTX: MimeGoogleSlide,
	MimeXLSX: MimeGoogleSheet,
}

// IsSupported reports whether the core ingests files of this MIME type.
func IsSupported(mimeType string) bool {
	switch mimeType {
	case MimeGoogleDoc, MimeGoogleSheet, MimeGoogleSlide,
		MimePDF, MimeDOCX, MimePPTX, MimeXLSX:
		return true
	}
	return false
}

// IsGoogleNative reports whether the file lives in a Google editor.
// Native files carry no md5Checksum; change detection uses
// (version, modifiedTime) instead.
func IsGoogleNative(mimeType string) bool {
	switch mimeType {
	case MimeGoogleDoc, MimeGoogleSheet, MimeGoogleSlide:
		return true
	}
	return false
}

// HasOpenXMLStructure reports whether the source preserves DOCX
// structure worth retaining alongside the plain text.
func HasOpenXMLStructure(mimeType string) bool {
	return mimeType == MimeDOCX || mimeType == MimeGoogleDoc
}
