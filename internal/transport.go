package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/derWhity/nereid/internal/ctxhelper"
	"github.com/derWhity/nereid/internal/log"
	"github.com/go-chi/cors"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/kardianos/osext"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

const (
	apiBasePath = "/api"
	// HeaderVisitorID is the request header carrying the ID of the visitor making the call
	HeaderVisitorID = "X-Visitor-ID"
)

// Defines an error that defines the HTTP status that should be returned
type httpStatuser interface {
	Status() int
}

// Defines an error that returns a machine-readable error code
type errorCoder interface {
	ErrorCode() string
}

// Defines an error that contains a data field with additional information
type dataBearer interface {
	Data() interface{}
}

type errorResponse struct {
	basicResponse
	// The error code
	Error   string      `json:"error"`
	Message string      `json:"errorMessage"`
	Details interface{} `json:"errorDetails,omitempty"`
}

// MakeHTTPHandler creates the main HTTP handler for the Nereid service
func MakeHTTPHandler(
	ds DiscoveryService,
	ps PreferenceService,
	cs ConfigService,
	logger *logrus.Entry,
) http.Handler {
	r := mux.NewRouter()

	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(encodeError),
		httptransport.ServerBefore(makeContextInjector(logger)),
		httptransport.ServerBefore(decodeVisitor),
	}

	// -- Discovery service ----------------------------
	{
		dEp := MakeDiscoveryEndpoints(ds, ps)

		// Sections
		r.Methods(http.MethodGet).Path(apiBasePath + "/sections").Handler(httptransport.NewServer(
			dEp.Sections,
			decodeSectionRequest,
			encodeJSONResponse,
			options...,
		))

		// Bookmarks
		r.Methods(http.MethodGet).Path(apiBasePath + "/bookmarks").Handler(httptransport.NewServer(
			dEp.Bookmarks,
			decodeSectionRequest,
			encodeJSONResponse,
			options...,
		))

		// Search
		r.Methods(http.MethodGet).Path(apiBasePath + "/search").Handler(httptransport.NewServer(
			dEp.Search,
			decodeSearchRequest,
			encodeJSONResponse,
			options...,
		))
	}

	// -- Preference service ---------------------------
	{
		pEp := MakePreferenceEndpoints(ps, ds)

		// CreateVisitor
		r.Methods(http.MethodPost).Path(apiBasePath + "/visitors").Handler(httptransport.NewServer(
			pEp.CreateVisitor,
			decodeNilRequest,
			encodeJSONResponse,
			options...,
		))

		// DeleteVisitor
		r.Methods(http.MethodDelete).Path(apiBasePath + "/visitors").Handler(httptransport.NewServer(
			pEp.DeleteVisitor,
			decodeNilRequest,
			encodeJSONResponse,
			options...,
		))

		// Get
		r.Methods(http.MethodGet).Path(apiBasePath + "/preferences").Handler(httptransport.NewServer(
			pEp.Get,
			decodeNilRequest,
			encodeJSONResponse,
			options...,
		))

		// SetChains
		r.Methods(http.MethodPut).Path(apiBasePath + "/preferences/chains").Handler(httptransport.NewServer(
			pEp.SetChains,
			decodeChainsRequest,
			encodeJSONResponse,
			options...,
		))

		// AddBookmark
		r.Methods(http.MethodPost).Path(apiBasePath + "/preferences/bookmarks").Handler(httptransport.NewServer(
			pEp.AddBookmark,
			decodeBookmarkFromJSONBody,
			encodeJSONResponse,
			options...,
		))

		// RemoveBookmark
		r.Methods(http.MethodDelete).Path(apiBasePath + "/preferences/bookmarks/{did}").Handler(httptransport.NewServer(
			pEp.RemoveBookmark,
			decodeBookmarkFromPath,
			encodeJSONResponse,
			options...,
		))

		// PlaceBookmarkBefore
		r.Methods(http.MethodPut).Path(apiBasePath + "/preferences/bookmarks/{did}/before/{otherDid}").Handler(httptransport.NewServer(
			pEp.PlaceBookmarkBefore,
			decodeReorderRequest,
			encodeJSONResponse,
			options...,
		))
	}

	// Simple alive answer for checking if HTTP can be reached
	r.Methods(http.MethodGet).Path("/alive").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		data := map[string]bool{"ok": true}
		json.NewEncoder(w).Encode(data)
	})

	// Plain file service for the UI serving everything from the "ui" folder right beside the application executable
	if execDir, err := osext.ExecutableFolder(); err == nil {
		uiDir := filepath.Join(execDir, "ui")
		r.Methods(http.MethodGet).PathPrefix("/").Handler(http.FileServer(http.Dir(uiDir)))
	} else {
		logger.WithError(err).Warn("Cannot locate the executable - the UI will not be served")
	}

	conf := cs.GetConfig(context.Background())
	return cors.Handler(cors.Options{
		AllowedOrigins: conf.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderVisitorID},
		MaxAge:         300,
	})(r)
}

// decodeNilRequest just does nothing with the request. It is used for endpoints that don't need anything to be passed
func decodeNilRequest(_ context.Context, r *http.Request) (request interface{}, err error) {
	return nil, nil
}

// decodeSectionRequest checks if the client asked to reload the sections with "?refresh=1"
func decodeSectionRequest(_ context.Context, r *http.Request) (interface{}, error) {
	req := SectionRequest{}
	if v := r.URL.Query().Get("refresh"); v != "" {
		refresh, err := strconv.ParseBool(v)
		if err != nil {
			return nil, illegalParameter("refresh", v)
		}
		req.Refresh = refresh
	}
	return req, nil
}

// getIntFromQuery is a helper function that gets an optional int from the given query variable
func getIntFromQuery(varname string, r *http.Request) (int, error) {
	str := r.URL.Query().Get(varname)
	if str == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(str)
	if err != nil {
		return 0, illegalParameter(varname, str)
	}
	return i, nil
}

// decodeSearchRequest decodes the parameters of a search by checking the GET variables "text", "sort", "sortOrder",
// "type", "page" and "size"
func decodeSearchRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	sr, err := decodeSectionRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	val := r.URL.Query()
	req := SearchRequest{
		SectionRequest: sr.(SectionRequest),
		Text:           val.Get("text"),
		Sort:           val.Get("sort"),
		SortOrder:      val.Get("sortOrder"),
		Type:           val.Get("type"),
	}
	if req.Page, err = getIntFromQuery("page", r); err != nil {
		return nil, err
	}
	if req.Size, err = getIntFromQuery("size", r); err != nil {
		return nil, err
	}
	return req, nil
}

// decodeChainsRequest reads the new chain selection from the JSON body
func decodeChainsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req chainsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, MakeError(
			http.StatusBadRequest,
			ErrCodeIllegalJSON,
			fmt.Sprintf("Failed to decode JSON body: %v", err),
		)
	}
	return req, nil
}

// decodeBookmarkFromJSONBody reads the asset to bookmark from the JSON body
func decodeBookmarkFromJSONBody(_ context.Context, r *http.Request) (interface{}, error) {
	var req bookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, MakeError(
			http.StatusBadRequest,
			ErrCodeIllegalJSON,
			fmt.Sprintf("Failed to decode JSON body: %v", err),
		)
	}
	if strings.TrimSpace(req.DID) == "" {
		return nil, MakeError(http.StatusBadRequest, ErrCodeRequiredFieldMissing, "Missing asset identifier")
	}
	return req, nil
}

// getStringFromPath is a helper function that gets a non-empty string from the given path variable
func getStringFromPath(varname string, r *http.Request) (string, error) {
	str, ok := mux.Vars(r)[varname]
	if !ok || str == "" {
		return "", MakeError(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			fmt.Sprintf("Missing value for '%s'", varname),
		)
	}
	return str, nil
}

func decodeBookmarkFromPath(_ context.Context, r *http.Request) (interface{}, error) {
	did, err := getStringFromPath("did", r)
	if err != nil {
		return nil, err
	}
	return bookmarkRequest{DID: did}, nil
}

// decodeReorderRequest loads the DIDs needed for a reorder operation from the path variables
func decodeReorderRequest(_ context.Context, r *http.Request) (interface{}, error) {
	did, err := getStringFromPath("did", r)
	if err != nil {
		return nil, err
	}
	otherDID, err := getStringFromPath("otherDid", r)
	if err != nil {
		return nil, err
	}
	return reorderRequest{DID: did, OtherDID: otherDID}, nil
}

// Encodes a typical JSON response
func encodeJSONResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

// Builds an error response based on the incoming error
func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	if err == nil {
		panic("encodeError with nil error")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if st, ok := err.(httpStatuser); ok {
		w.WriteHeader(st.Status())
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}
	ret := errorResponse{
		basicResponse: basicResponse{false, nil},
		Message:       err.Error(),
		Error:         ErrCodeUnknown,
	}
	if cd, ok := err.(errorCoder); ok {
		ret.Error = cd.ErrorCode()
	}
	if db, ok := err.(dataBearer); ok {
		if data := db.Data(); data != nil {
			if err, ok := data.(error); ok {
				ret.Details = err.Error()
			} else {
				ret.Details = data
			}
		}
	}
	json.NewEncoder(w).Encode(&ret)
}

// decodeVisitor is used in every HTTP call to pick up the visitor ID sent by the client. IDs that are no UUID are
// ignored
func decodeVisitor(ctx context.Context, r *http.Request) context.Context {
	raw := strings.TrimSpace(r.Header.Get(HeaderVisitorID))
	if raw == "" {
		return ctx
	}
	logger := ctxhelper.Logger(ctx)
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.WithError(err).Debug("Ignoring malformed visitor ID")
		return ctx
	}
	ctx = context.WithValue(ctx, ctxhelper.KeyVisitor, id.String())
	return context.WithValue(ctx, ctxhelper.KeyLogger, logger.WithField(log.FldVisitor, id.String()))
}

// makeContextInjector returns a function adding a logger with a fresh request ID to the context of each call
func makeContextInjector(logger *logrus.Entry) httptransport.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		return context.WithValue(ctx, ctxhelper.KeyLogger, logger.WithFields(logrus.Fields{
			log.FldRequest: uuid.New().String(),
			log.FldPath:    r.URL.Path,
		}))
	}
}
