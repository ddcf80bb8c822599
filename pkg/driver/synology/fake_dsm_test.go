// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package synology

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"sync"
)

const (
	fakeCipherKey   = "__cIpHeRtExT"
	fakeCipherToken = "__cIpHeRtOkEn"
	fakeServerTime  = 1571234567
)

// fakeDSM is an in-memory DSM Web API
type fakeDSM struct {
	mux     sync.Mutex
	srv     *httptest.Server
	key     *rsa.PrivateKey
	noAPIs  bool
	sids    map[string]bool
	logins  int
	expire  bool
	nextID  int
	volFree int64
	luns    map[string]*LUN
	snaps   map[string]*Snapshot
	targets map[int]*Target
	calls   map[string]int
	errors  map[string]int
}

func newFakeDSM() *fakeDSM {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		panic(err)
	}
	fd := &fakeDSM{
		key:     key,
		sids:    map[string]bool{},
		volFree: 800 << 30,
		luns:    map[string]*LUN{},
		snaps:   map[string]*Snapshot{},
		targets: map[int]*Target{},
		calls:   map[string]int{},
		errors:  map[string]int{},
	}
	fd.srv = httptest.NewServer(fd)
	return fd
}

func opensslDecrypt(pass, data []byte) ([]byte, error) {
	if len(data) < 16 || string(data[:8]) != opensslMagic || (len(data)-16)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("bad cipher text")
	}
	key, iv := evpBytesToKey(pass, data[8:16], 32, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(data)-16)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, data[16:])
	pad := int(pt[len(pt)-1])
	if pad == 0 || pad > aes.BlockSize || !bytes.Equal(pt[len(pt)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return nil, fmt.Errorf("bad padding")
	}
	return pt[:len(pt)-pad], nil
}

// decryptLogin reverses encryptParams
func (fd *fakeDSM) decryptLogin(v string) (url.Values, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil, err
	}
	rsaCT, err := base64.StdEncoding.DecodeString(m["rsa"])
	if err != nil {
		return nil, err
	}
	pass, err := rsa.DecryptPKCS1v15(nil, fd.key, rsaCT)
	if err != nil {
		return nil, err
	}
	aesCT, err := base64.StdEncoding.DecodeString(m["aes"])
	if err != nil {
		return nil, err
	}
	pt, err := opensslDecrypt(pass, aesCT)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(string(pt))
}

func (fd *fakeDSM) reply(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
}

func (fd *fakeDSM) fail(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"success":false,"error":{"code":%d}}`, code)
}

func (fd *fakeDSM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fd.mux.Lock()
	defer fd.mux.Unlock()
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	api, method := r.PostForm.Get("api"), r.PostForm.Get("method")
	fd.calls[method]++
	switch r.URL.Path {
	case "/webapi/query.cgi":
		if fd.noAPIs {
			fd.reply(w, map[string]interface{}{APIInfo: map[string]interface{}{"path": "query.cgi", "minVersion": 1, "maxVersion": 1}})
			return
		}
		fd.reply(w, map[string]interface{}{
			APIInfo:       map[string]interface{}{"path": "query.cgi", "minVersion": 1, "maxVersion": 1},
			APIAuth:       map[string]interface{}{"path": "auth.cgi", "minVersion": 1, "maxVersion": 6},
			APIEncryption: map[string]interface{}{"path": "encryption.cgi", "minVersion": 1, "maxVersion": 1},
			APILUN:        map[string]interface{}{"path": "entry.cgi", "minVersion": 1, "maxVersion": 1},
			APITarget:     map[string]interface{}{"path": "entry.cgi", "minVersion": 1, "maxVersion": 1},
			APIVolume:     map[string]interface{}{"path": "entry.cgi", "minVersion": 1, "maxVersion": 1},
		})
	case "/webapi/encryption.cgi":
		fd.reply(w, map[string]interface{}{
			"public_key":  fd.key.N.Text(16),
			"cipherkey":   fakeCipherKey,
			"ciphertoken": fakeCipherToken,
			"server_time": fakeServerTime,
		})
	case "/webapi/auth.cgi":
		fd.auth(w, r, method)
	case "/webapi/entry.cgi":
		if !fd.sids[r.PostForm.Get("_sid")] {
			fd.fail(w, ErrCodeSIDNotFound)
			return
		}
		if fd.expire {
			fd.expire = false
			fd.sids = map[string]bool{}
			fd.fail(w, ErrCodeSessionTimeout)
			return
		}
		if code, ok := fd.errors[method]; ok {
			fd.fail(w, code)
			return
		}
		p := map[string]interface{}{}
		for k, v := range r.PostForm {
			var val interface{}
			if json.Unmarshal([]byte(v[0]), &val) == nil {
				p[k] = val
			}
		}
		fd.entry(w, api, method, p)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fd *fakeDSM) auth(w http.ResponseWriter, r *http.Request, method string) {
	if method == "logout" {
		delete(fd.sids, r.PostForm.Get("_sid"))
		fd.reply(w, nil)
		return
	}
	params, err := fd.decryptLogin(r.PostForm.Get(fakeCipherKey))
	if err != nil {
		fd.fail(w, ErrCodeInvalidParameter)
		return
	}
	if params.Get(fakeCipherToken) != strconv.Itoa(fakeServerTime) {
		fd.fail(w, ErrCodeInvalidParameter)
		return
	}
	if params.Get("account") != "admin" || params.Get("passwd") != "secret" {
		fd.fail(w, ErrCodeBadCredentials)
		return
	}
	fd.logins++
	sid := fmt.Sprintf("sid-%d", fd.logins)
	fd.sids[sid] = true
	fd.reply(w, map[string]string{"sid": sid})
}

func (fd *fakeDSM) id(prefix string) string {
	fd.nextID++
	return fmt.Sprintf("%s-%04d", prefix, fd.nextID)
}

func str(p map[string]interface{}, k string) string {
	s, _ := p[k].(string)
	return s
}

func num(p map[string]interface{}, k string) int64 {
	f, _ := p[k].(float64)
	return int64(f)
}

func (fd *fakeDSM) newLUN(name, location, typ string, size int64) *LUN {
	for _, l := range fd.luns {
		if l.Name == name {
			return nil
		}
	}
	l := &LUN{UUID: fd.id("lun"), Name: name, Location: location, Type: typ, Size: size, Status: "creating"}
	fd.luns[l.UUID] = l
	return l
}

func (fd *fakeDSM) entry(w http.ResponseWriter, api, method string, p map[string]interface{}) {
	switch api + " " + method {
	case APIVolume + " get":
		if str(p, "volume_path") != "/volume1" {
			fd.fail(w, ErrCodeInvalidParameter)
			return
		}
		fd.reply(w, map[string]interface{}{"volume": map[string]string{
			"volume_path":     "/volume1",
			"size_total_byte": strconv.FormatInt(1000<<30, 10),
			"size_free_byte":  strconv.FormatInt(fd.volFree, 10),
			"fs_type":         "btrfs",
		}})
	case APILUN + " create":
		size := num(p, "size")
		if size > fd.volFree {
			fd.fail(w, ErrCodeNoSpace)
			return
		}
		l := fd.newLUN(str(p, "name"), str(p, "location"), str(p, "type"), size)
		if l == nil {
			fd.fail(w, ErrCodeLUNNameExists)
			return
		}
		fd.volFree -= size
		fd.reply(w, map[string]string{"uuid": l.UUID})
	case APILUN + " get":
		l, ok := fd.luns[str(p, "uuid")]
		if !ok {
			fd.fail(w, ErrCodeLUNNotExist)
			return
		}
		cp := *l
		l.Status = lunStatusNormal
		fd.reply(w, map[string]interface{}{"lun": &cp})
	case APILUN + " list":
		list := []*LUN{}
		for _, l := range fd.luns {
			list = append(list, l)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].UUID < list[j].UUID })
		fd.reply(w, map[string]interface{}{"luns": list})
	case APILUN + " delete":
		l, ok := fd.luns[str(p, "uuid")]
		if !ok {
			fd.fail(w, ErrCodeLUNNotExist)
			return
		}
		for _, t := range fd.targets {
			for _, ml := range t.MappedLUNs {
				if ml.LUNUUID == l.UUID {
					fd.fail(w, ErrCodeLUNBusy)
					return
				}
			}
		}
		for id, s := range fd.snaps {
			if s.Parent == l.UUID {
				delete(fd.snaps, id)
			}
		}
		fd.volFree += l.Size
		delete(fd.luns, l.UUID)
		fd.reply(w, nil)
	case APILUN + " set":
		l, ok := fd.luns[str(p, "uuid")]
		if !ok {
			fd.fail(w, ErrCodeLUNNotExist)
			return
		}
		if ns := num(p, "new_size"); ns > l.Size {
			l.Size = ns
			l.Status = "expanding"
		} else {
			fd.fail(w, ErrCodeInvalidParameter)
			return
		}
		fd.reply(w, nil)
	case APILUN + " take_snapshot":
		l, ok := fd.luns[str(p, "src_lun_uuid")]
		if !ok {
			fd.fail(w, ErrCodeLUNNotExist)
			return
		}
		s := &Snapshot{UUID: fd.id("snap"), Name: str(p, "snapshot_name"), Parent: l.UUID, Status: "Creating", TotalSz: l.Size}
		fd.snaps[s.UUID] = s
		fd.reply(w, map[string]string{"snapshot_uuid": s.UUID})
	case APILUN + " get_snapshot":
		s, ok := fd.snaps[str(p, "snapshot_uuid")]
		if !ok {
			fd.fail(w, ErrCodeSnapshotNotExist)
			return
		}
		cp := *s
		s.Status = snapStatusHealthy
		fd.reply(w, map[string]interface{}{"snapshot": &cp})
	case APILUN + " delete_snapshot":
		if _, ok := fd.snaps[str(p, "snapshot_uuid")]; !ok {
			fd.fail(w, ErrCodeSnapshotNotExist)
			return
		}
		delete(fd.snaps, str(p, "snapshot_uuid"))
		fd.reply(w, nil)
	case APILUN + " clone_snapshot":
		s, ok := fd.snaps[str(p, "snapshot_uuid")]
		if !ok || s.Parent != str(p, "src_lun_uuid") {
			fd.fail(w, ErrCodeSnapshotNotExist)
			return
		}
		src := fd.luns[s.Parent]
		l := fd.newLUN(str(p, "cloned_lun_name"), src.Location, src.Type, s.TotalSz)
		if l == nil {
			fd.fail(w, ErrCodeLUNNameExists)
			return
		}
		fd.reply(w, map[string]string{"cloned_lun_uuid": l.UUID})
	case APILUN + " clone":
		src, ok := fd.luns[str(p, "src_lun_uuid")]
		if !ok {
			fd.fail(w, ErrCodeLUNNotExist)
			return
		}
		l := fd.newLUN(str(p, "dst_lun_name"), str(p, "dst_location"), src.Type, src.Size)
		if l == nil {
			fd.fail(w, ErrCodeLUNNameExists)
			return
		}
		fd.reply(w, map[string]string{"dst_lun_uuid": l.UUID})
	case APILUN + " map_target", APILUN + " unmap_target":
		uuid := str(p, "uuid")
		if _, ok := fd.luns[uuid]; !ok {
			fd.fail(w, ErrCodeLUNNotExist)
			return
		}
		ids, _ := p["target_ids"].([]interface{})
		for _, v := range ids {
			tid, _ := strconv.Atoi(v.(string))
			t, ok := fd.targets[tid]
			if !ok {
				fd.fail(w, ErrCodeTargetNotExist)
				return
			}
			if method == "map_target" {
				t.MappedLUNs = append(t.MappedLUNs, &MappedLUN{LUNUUID: uuid, MappingIndex: len(t.MappedLUNs) + 1})
				continue
			}
			for i, ml := range t.MappedLUNs {
				if ml.LUNUUID == uuid {
					t.MappedLUNs = append(t.MappedLUNs[:i], t.MappedLUNs[i+1:]...)
					break
				}
			}
		}
		fd.reply(w, nil)
	case APITarget + " list":
		list := []*Target{}
		for _, t := range fd.targets {
			list = append(list, t)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].TargetID < list[j].TargetID })
		fd.reply(w, map[string]interface{}{"targets": list})
	case APITarget + " create":
		fd.nextID++
		t := &Target{TargetID: fd.nextID, Name: str(p, "name"), IQN: str(p, "iqn")}
		fd.targets[t.TargetID] = t
		fd.reply(w, map[string]int{"target_id": t.TargetID})
	case APITarget + " delete":
		tid, _ := strconv.Atoi(str(p, "target_id"))
		if _, ok := fd.targets[tid]; !ok {
			fd.fail(w, ErrCodeTargetNotExist)
			return
		}
		delete(fd.targets, tid)
		fd.reply(w, nil)
	default:
		fd.fail(w, ErrCodeNoSuchMethod)
	}
}
