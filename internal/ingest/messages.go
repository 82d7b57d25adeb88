package ingest

import "fmt"

// User-facing status lines shown next to the ingestion form.
const (
	MsgEnterLink     = "Unesite link računa."
	MsgProcessing    = "Obrada..."
	MsgReview        = "Proverite podatke, zatim sačuvajte."
	MsgManual        = "Ručno unesite podatke i sačuvajte."
	MsgSaving        = "Čuvanje..."
	MsgNoItems       = "Nema stavki za čuvanje."
	MsgSignInNeeded  = "Morate se prijaviti."
	msgSaveErrPrefix = "Greška pri snimanju: "
	msgProcErrPrefix = "Greška pri obradi: "
)

func msgSaved(n int) string {
	return fmt.Sprintf("Sačuvano. Dodato %d stavki.", n)
}

func msgSaveError(err error) string {
	return msgSaveErrPrefix + err.Error()
}

func msgProcessingError(err error) string {
	return msgProcErrPrefix + err.Error()
}
