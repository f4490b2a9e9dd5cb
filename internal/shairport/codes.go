package shairport

// Type tags carried in the item envelope.
const (
	TypeCore = "core" // iTunes/DMAP metadata
	TypeSSNC = "ssnc" // shairport-sync control records
)

// ssnc control codes.
const (
	CodePlayControl   = "pcst" // payload "1" playing / "0" paused
	CodeSessionBegin  = "pbeg"
	CodeSessionEnd    = "pend"
	CodeStreamResume  = "prsm"
	CodeStreamFlush   = "pfls"
	CodeFirstFrame    = "pffr"
	CodeConnectionEnd = "pcen"
	CodeMetadataStart = "mdst"
	CodeMetadataEnd   = "mden"
	CodePicture       = "PICT"
	CodeProgress      = "prgr" // "start/current/end" RTP timestamps
	CodeActiveBegin   = "abeg"
	CodeActiveEnd     = "aend"
	CodeActiveRemote  = "acre"
	CodeDACPID        = "daid"
	CodeClientIP      = "clip"
	CodeServerIP      = "svip"
)

// Chunked picture transfer codes. Large cover art may arrive split across a
// begin/data/end triplet; the assembler concatenates the chunks and emits a
// single PICT item.
const (
	CodePictureBegin = "pcbg"
	CodePictureData  = "pcdt"
	CodePictureEnd   = "pcnd"
)

// coreFields maps DMAP codes to snapshot field names.
var coreFields = map[string]string{
	"asal": "album",
	"asar": "artist",
	"minm": "title",
	"asgn": "genre",
	"ascp": "composer",
	"ascm": "comment",
	"asdt": "description",
	"asst": "sortartist",
	"assn": "sorttitle",
	"asaa": "albumartist",
	"asbr": "bitrate",
	"asdn": "discnumber",
	"asdc": "disccount",
	"astn": "tracknumber",
	"astc": "trackcount",
	"assr": "samplerate",
	"astm": "tracktime", // milliseconds
	"asco": "compilation",
	"aswk": "work",
}

// dmapDescriptions names DMAP codes that are logged but not mapped to
// snapshot fields.
var dmapDescriptions = map[string]string{
	"mper": "Media Player Persistent ID",
	"miid": "Media Item ID",
	"mikd": "Media Item Kind",
	"meia": "Media Kind",
	"asdk": "Song Data Kind",
	"caps": "Play Status",
	"aeSI": "Apple Store ID",
	"aeAI": "Apple Album ID",
	"aeMk": "Apple Extras Make",
	"aeGs": "Apple Genre Source",
	"agrp": "Album Grouping",
	"asct": "Song Category",
	"ascr": "Song Copyright",
	"asdr": "Song Date Released",
}

// CoreFieldName returns the snapshot field name for a core metadata code.
func CoreFieldName(code string) (string, bool) {
	name, ok := coreFields[code]
	return name, ok
}

// DescribeDMAP returns a human-readable description for a known DMAP code.
func DescribeDMAP(code string) (string, bool) {
	desc, ok := dmapDescriptions[code]
	return desc, ok
}
