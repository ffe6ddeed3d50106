package fetch

// AllowHTTP lets tests exercise the downloader against plaintext httptest
// servers; production rejects anything but https.
func (d *Downloader) AllowHTTP() { d.allowHTTP = true }
