package page

// ForgeLoaned builds a Loaned handle over c without asking the OS.
func ForgeLoaned(c Committed) Loaned { return Loaned{c.region} }
