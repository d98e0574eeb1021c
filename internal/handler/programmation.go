package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/reprog-billing/internal/domain/programmation"
)

// QuoteProgrammation prices a set of ECU modifications in credits.
func (h *Handler) QuoteProgrammation(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	flags, err := decodeFlags(d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cost, err := programmation.Cost(flags)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("credits")
		e.Int(cost)
		e.ObjEnd()
	})
}
