package call

import (
	"strconv"
	"time"

	"github.com/mosaicnetworks/walkie/src/negotiator"
	"github.com/mosaicnetworks/walkie/src/relay"
)

// Fields of the records exchanged through the relay.
const (
	fieldSDP       = "sdp"
	fieldType      = "type"
	fieldFrom      = "from"
	fieldTo        = "to"
	fieldTimestamp = "timestamp"
	fieldCandidate = "candidate"

	// fieldMode marks renegotiation offers within a call.
	fieldMode = "mode"
	// fieldNonce identifies an offer, and the negotiation epoch it opens.
	fieldNonce = "nonce"
	// fieldRef is the nonce of the offer an answer responds to.
	fieldRef = "ref"
	// fieldEpoch is the nonce of the negotiation a candidate belongs to.
	fieldEpoch = "epoch"
)

// Offer modes
const (
	modeCall    = ""
	modeRestart = "restart"
	modeRenew   = "renew"
)

// typeReject is the answer type sent when an incoming call is rejected.
const typeReject = "reject"

func timestamp() string {
	return strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
}

func recordTime(rec relay.Record) (time.Time, bool) {
	ms, err := strconv.ParseInt(rec.Fields[fieldTimestamp], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ms*int64(time.Millisecond)), true
}

func offerFields(from, to, nonce, mode string, desc negotiator.Description) relay.Fields {
	f := relay.Fields{
		fieldSDP:       desc.SDP,
		fieldType:      desc.Type,
		fieldFrom:      from,
		fieldTo:        to,
		fieldTimestamp: timestamp(),
		fieldNonce:     nonce,
	}
	if mode != modeCall {
		f[fieldMode] = mode
	}
	return f
}

func answerFields(from, to, ref string, desc negotiator.Description) relay.Fields {
	return relay.Fields{
		fieldSDP:       desc.SDP,
		fieldType:      desc.Type,
		fieldFrom:      from,
		fieldTo:        to,
		fieldTimestamp: timestamp(),
		fieldRef:       ref,
	}
}

func rejectFields(from, to, ref string) relay.Fields {
	return relay.Fields{
		fieldType:      typeReject,
		fieldFrom:      from,
		fieldTo:        to,
		fieldTimestamp: timestamp(),
		fieldRef:       ref,
	}
}

func candidateFields(from, to, epoch string, c negotiator.Candidate) relay.Fields {
	return relay.Fields{
		fieldCandidate: string(c),
		fieldFrom:      from,
		fieldTo:        to,
		fieldTimestamp: timestamp(),
		fieldEpoch:     epoch,
	}
}

func description(rec relay.Record) negotiator.Description {
	return negotiator.Description{
		Type: rec.Fields[fieldType],
		SDP:  rec.Fields[fieldSDP],
	}
}
