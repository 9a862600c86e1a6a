package google

// Scopes needed to create a spreadsheet and share it. drive.file limits
// Drive access to files this application creates.
const (
	SpreadsheetsScope = "https://www.googleapis.com/auth/spreadsheets"
	DriveFileScope    = "https://www.googleapis.com/auth/drive.file"
)

// DefaultOAuthScopes are requested for every device authorization.
var DefaultOAuthScopes = []string{
	SpreadsheetsScope,
	DriveFileScope,
}
