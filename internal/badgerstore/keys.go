package badgerstore

import "fmt"

// Key layout:
//
//	meeting/<id>                     JSON document
//	code/<CODE>                      id of the newest meeting with the code
//	host/<hostID>\x00<nanos>/<id>    present while the meeting is active
const (
	prefixMeeting = "meeting/"
	prefixCode    = "code/"
	prefixHost    = "host/"
)

func meetingKey(id string) []byte {
	return []byte(prefixMeeting + id)
}

func codeKey(code string) []byte {
	return []byte(prefixCode + code)
}

func hostPrefix(hostID string) []byte {
	return []byte(prefixHost + hostID + "\x00")
}

// hostKey sorts by creation time within a host; zero padding keeps byte order
// equal to numeric order.
func hostKey(hostID string, createdAtNanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d/%s", prefixHost, hostID, createdAtNanos, id))
}
