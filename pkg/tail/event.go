package tail

// Event is the closed set of values delivered on Watcher.Events, in file
// order.
type Event interface {
	tailEvent()
}

// Data holds bytes read from the file starting at Offset. Consecutive Data
// events never overlap and never leave gaps within one file identity.
type Data struct {
	Bytes  []byte
	Offset int64
}

// Renamed reports that the path now refers to a different file. Bytes left
// in the previous file were delivered before this event; Data after it
// starts at offset 0 of the new file.
type Renamed struct{}

// Truncated reports that the file shrank below the read offset. Reading
// restarts from offset 0.
type Truncated struct{}

// Retry reports a failed poll that will be retried sooner than usual.
type Retry struct {
	Failures int
	Err      error
}

// Flush is a heartbeat sent by polls that found nothing new.
type Flush struct {
	Offset int64
}

// Advisory carries a non fatal failure, such as a read error while draining a
// handle whose path has disappeared.
type Advisory struct {
	Err error
}

func (Data) tailEvent()      {}
func (Renamed) tailEvent()   {}
func (Truncated) tailEvent() {}
func (Retry) tailEvent()     {}
func (Flush) tailEvent()     {}
func (Advisory) tailEvent()  {}
