package simulated

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Paths served by the simulated site.
const (
	PathLogin              = "/login"
	PathLogout             = "/logout"
	PathDashboard          = "/dashboard"
	PathLecturerAttendance = "/dosen/daftar_hadir"
	PathStudentAttendance  = "/mahasiswa/daftar_hadir"
)

const pageTmpl = `<!DOCTYPE html><html><head><title>%s</title></head><body>%s</body></html>`

func esc(s string) string { return html.EscapeString(s) }

func renderLogin(showError bool, v siteView) string {
	var b strings.Builder
	b.WriteString(`<div class="login-box"><form method="post" action="/login">`)
	if showError {
		b.WriteString(`<div class="alert alert-danger" role="alert">Username atau password salah</div>`)
	}
	b.WriteString(`<input type="email" class="form-control" id="exampleInputEmail1" name="email" data-key="identifier">`)
	if v.hiddenFeedback {
		b.WriteString(`<div class="invalid-feedback" style="display: none">Email wajib diisi</div>`)
	}
	b.WriteString(`<input type="password" class="form-control" id="password-field" name="password" data-key="secret">`)
	if v.hiddenFeedback {
		b.WriteString(`<div class="invalid-feedback" style="display: none">Password wajib diisi</div>`)
	}
	b.WriteString(`<button type="submit" class="btn btn-login" data-key="login-submit">Login</button>`)
	b.WriteString(`</form></div>`)
	return fmt.Sprintf(pageTmpl, "Login", b.String())
}

func navbar(user string, v siteView) string {
	var b strings.Builder
	b.WriteString(`<nav class="navbar"><span class="user">` + esc(user) + `</span>`)
	if !v.hideLogout {
		b.WriteString(`<a href="/logout" class="nav-link" data-key="logout">Logout</a>`)
	}
	b.WriteString(`</nav>`)
	return b.String()
}

func renderDashboard(user string, v siteView) string {
	return fmt.Sprintf(pageTmpl, "Dashboard", navbar(user, v)+`<main><h1>Dashboard</h1></main>`)
}

func renderNotFound() string {
	return fmt.Sprintf(pageTmpl, "Not Found", `<h1>404</h1>`)
}

// renderAttendance returns the page shell and, separately, the rows for its table body so they can
// be inserted later.
func renderAttendance(path, user string, v siteView) (string, string) {
	lecturer := path == PathLecturerAttendance

	var rows strings.Builder
	for i, c := range v.courses {
		rows.WriteString(`<tr>`)
		rows.WriteString(fmt.Sprintf(`<td data-label="No">%d</td>`, i+1))
		rows.WriteString(`<td data-label="Mata Kuliah">` + esc(c.Name) + `</td>`)
		rows.WriteString(`<td data-label="Hari">` + esc(c.Day) + `</td>`)
		rows.WriteString(`<td data-label="Aksi">`)
		if lecturer {
			disabled := ""
			if c.DisabledOpen {
				disabled = " disabled"
			}
			rows.WriteString(fmt.Sprintf(`<button type="button" class="btn btn-sm btn-success btn-buka" title="Buka Kelas" data-key="buka-%d"%s><i class="fa fa-unlock"></i> Buka</button>`, i, disabled))
			rows.WriteString(fmt.Sprintf(`<button type="button" class="btn btn-sm btn-info btn-detail" data-key="detail-%d"><i class="fa fa-list"></i> Absensi</button>`, i))
		} else {
			switch c.SubmitTitleAttr {
			case "title", "data-original-title":
				rows.WriteString(fmt.Sprintf(`<button type="button" class="btn btn-sm btn-primary" %s="Submit Kehadiran" data-key="submit-%d"><i class="fa fa-check" title="Hadir"></i></button>`, c.SubmitTitleAttr, i))
			default:
				rows.WriteString(`<i class="fa fa-clock-o" title="Belum dibuka" data-status="closed"></i>`)
			}
		}
		rows.WriteString(`</td></tr>`)
	}

	var body strings.Builder
	body.WriteString(navbar(user, v))
	body.WriteString(`<main><h1>Daftar Hadir</h1>`)
	body.WriteString(`<table class="table"><thead><tr><th>No</th><th>Mata Kuliah</th><th>Hari</th><th>Aksi</th></tr></thead><tbody></tbody></table>`)
	body.WriteString(`</main>`)
	if lecturer {
		checked := ""
		if v.checkboxChecked {
			checked = " checked"
		}
		body.WriteString(`<div class="modal fade" id="confirmation" style="display:none"><div class="modal-dialog"><div class="modal-content">`)
		body.WriteString(`<div class="modal-body">Buka kelas sekarang?</div>`)
		body.WriteString(`<div class="modal-footer"><button type="button" class="btn btn-secondary" data-key="cancel-open">Batal</button>`)
		body.WriteString(`<button type="button" class="btn-ok btn btn-success" data-key="confirm-open">Ya</button></div>`)
		body.WriteString(`</div></div></div>`)

		body.WriteString(`<div class="modal fade" id="modal_daring" style="display:none"><div class="modal-dialog"><div class="modal-content"><form>`)
		body.WriteString(`<input type="text" class="form-control" id="topik_pembahasan" name="topik_pembahasan" data-key="topic">`)
		body.WriteString(`<label><input type="checkbox" name="masuk_semua" data-key="masuk-semua"` + checked + `> Hadir semua</label>`)
		body.WriteString(`<button type="button" class="btn btn-primary" data-key="save-approval"><i class="fa fa-save"></i> Simpan</button>`)
		body.WriteString(`</form></div></div></div>`)
	}
	return fmt.Sprintf(pageTmpl, "Daftar Hadir", body.String()), rows.String()
}
