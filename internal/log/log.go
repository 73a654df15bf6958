package log

const (
	// FldFile is the name of the log field for storing file name information
	FldFile = "file"
	// FldPath is the name of the log field for storing path name information
	FldPath = "path"
	// FldTransport is the name of the log field for storing a transport name
	FldTransport = "transport"
	// FldVisitor is the name of the log field for storing the visitor ID of the current call
	FldVisitor = "visitor"
	// FldRequest is the name of the log field for the ID generated for each incoming HTTP request
	FldRequest = "req"
	// FldVersion is the version number of the application
	FldVersion = "ver"
	// FldSection is the name of the discovery section (Featured, Bookmarks, ...) a log entry belongs to
	FldSection = "section"
	// FldToken is the ID of the cancel token of a fetch
	FldToken = "token"
	// FldChains is the list of chain IDs used in a query
	FldChains = "chains"
	// FldDID is the decentralized identifier of an asset
	FldDID = "did"
	// FldURL is the URL of an upstream service called
	FldURL = "url"
	// FldCount is a number of items handled
	FldCount = "count"
	// FldSearch is a search term used in a search
	FldSearch = "search"
	// FldPage is the requested page in a search
	FldPage = "page"
	// FldLimit is the requested result limit in a search
	FldLimit = "limit"
	// FldDuration is the time an upstream call took
	FldDuration = "took"
	// FldStatus is the HTTP status code returned by an upstream service
	FldStatus = "status"
)
