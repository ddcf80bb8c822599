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


package fujitsu

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/driver/rest"
	logging "github.com/op/go-logging"
)

// CIM status codes of the ERROR element
const (
	CIMErrFailed           = 1
	CIMErrAccessDenied     = 2
	CIMErrInvalidNamespace = 3
	CIMErrInvalidParameter = 4
	CIMErrInvalidClass     = 5
	CIMErrNotFound         = 6
	CIMErrNotSupported     = 7
)

var cimErrNames = map[int]string{
	CIMErrFailed:           "CIM_ERR_FAILED",
	CIMErrAccessDenied:     "CIM_ERR_ACCESS_DENIED",
	CIMErrInvalidNamespace: "CIM_ERR_INVALID_NAMESPACE",
	CIMErrInvalidParameter: "CIM_ERR_INVALID_PARAMETER",
	CIMErrInvalidClass:     "CIM_ERR_INVALID_CLASS",
	CIMErrNotFound:         "CIM_ERR_NOT_FOUND",
	CIMErrNotSupported:     "CIM_ERR_NOT_SUPPORTED",
}

// CIMPath is the path of the CIM-XML endpoint
const CIMPath = "/cimom"

// CIM is the document element of a CIM-XML message
type CIM struct {
	XMLName    xml.Name `xml:"CIM"`
	CIMVersion string   `xml:"CIMVERSION,attr"`
	DTDVersion string   `xml:"DTDVERSION,attr"`
	Message    Message  `xml:"MESSAGE"`
}

// Message is a request or response
type Message struct {
	ID              string     `xml:"ID,attr"`
	ProtocolVersion string     `xml:"PROTOCOLVERSION,attr"`
	Req             *SimpleReq `xml:"SIMPLEREQ,omitempty"`
	Rsp             *SimpleRsp `xml:"SIMPLERSP,omitempty"`
}

// SimpleReq contains an intrinsic or extrinsic method call
type SimpleReq struct {
	IMethodCall *IMethodCall `xml:"IMETHODCALL,omitempty"`
	MethodCall  *MethodCall  `xml:"METHODCALL,omitempty"`
}

// SimpleRsp contains an intrinsic or extrinsic method response
type SimpleRsp struct {
	IMethodResponse *IMethodResponse `xml:"IMETHODRESPONSE,omitempty"`
	MethodResponse  *MethodResponse  `xml:"METHODRESPONSE,omitempty"`
}

// LocalNamespacePath is a namespace split at "/"
type LocalNamespacePath struct {
	Namespaces []Namespace `xml:"NAMESPACE"`
}

// Namespace is one namespace component
type Namespace struct {
	Name string `xml:"NAME,attr"`
}

// IMethodCall is an intrinsic method call
type IMethodCall struct {
	Name   string             `xml:"NAME,attr"`
	Path   LocalNamespacePath `xml:"LOCALNAMESPACEPATH"`
	Params []IParamValue      `xml:"IPARAMVALUE"`
}

// IParamValue is an intrinsic method parameter
type IParamValue struct {
	Name         string        `xml:"NAME,attr"`
	ClassName    *ClassName    `xml:"CLASSNAME,omitempty"`
	InstanceName *InstanceName `xml:"INSTANCENAME,omitempty"`
	Value        *string       `xml:"VALUE,omitempty"`
}

// ClassName names a class
type ClassName struct {
	Name string `xml:"NAME,attr"`
}

// MethodCall is an extrinsic method call on an instance
type MethodCall struct {
	Name   string            `xml:"NAME,attr"`
	Path   LocalInstancePath `xml:"LOCALINSTANCEPATH"`
	Params []ParamValue      `xml:"PARAMVALUE"`
}

// LocalInstancePath is an instance name in a namespace
type LocalInstancePath struct {
	NamespacePath LocalNamespacePath `xml:"LOCALNAMESPACEPATH"`
	InstanceName  *InstanceName      `xml:"INSTANCENAME"`
}

// ParamValue is an extrinsic method parameter or output parameter
type ParamValue struct {
	Name  string          `xml:"NAME,attr"`
	Type  string          `xml:"PARAMTYPE,attr,omitempty"`
	Value *string         `xml:"VALUE,omitempty"`
	Array *ValueArray     `xml:"VALUE.ARRAY,omitempty"`
	Ref   *ValueReference `xml:"VALUE.REFERENCE,omitempty"`
}

// ValueArray is a list of values
type ValueArray struct {
	Values []string `xml:"VALUE"`
}

// ValueReference refers to an instance
type ValueReference struct {
	InstancePath *InstancePath `xml:"INSTANCEPATH,omitempty"`
	InstanceName *InstanceName `xml:"INSTANCENAME,omitempty"`
}

// Name returns the referenced instance name
func (r *ValueReference) Name() *InstanceName {
	if r == nil {
		return nil
	}
	if r.InstanceName != nil {
		return r.InstanceName
	}
	if r.InstancePath != nil {
		return r.InstancePath.InstanceName
	}
	return nil
}

// InstancePath is an instance name with host and namespace
type InstancePath struct {
	NamespacePath struct {
		Host  string             `xml:"HOST"`
		Local LocalNamespacePath `xml:"LOCALNAMESPACEPATH"`
	} `xml:"NAMESPACEPATH"`
	InstanceName *InstanceName `xml:"INSTANCENAME"`
}

// InstanceName identifies an instance by its class and key properties
type InstanceName struct {
	ClassName string       `xml:"CLASSNAME,attr"`
	Keys      []KeyBinding `xml:"KEYBINDING"`
}

// KeyBinding is a key property
type KeyBinding struct {
	Name  string          `xml:"NAME,attr"`
	Value *KeyValue       `xml:"KEYVALUE,omitempty"`
	Ref   *ValueReference `xml:"VALUE.REFERENCE,omitempty"`
}

// KeyValue is the value of a key property
type KeyValue struct {
	Type  string `xml:"VALUETYPE,attr,omitempty"`
	Value string `xml:",chardata"`
}

// NewInstanceName returns an instance name with string keys in sorted order
func NewInstanceName(class string, keys map[string]string) *InstanceName {
	n := &InstanceName{ClassName: class}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		n.Keys = append(n.Keys, KeyBinding{Name: k, Value: &KeyValue{Type: "string", Value: keys[k]}})
	}
	return n
}

// Key returns the value of a key property
func (n *InstanceName) Key(name string) string {
	if n == nil {
		return ""
	}
	for _, k := range n.Keys {
		if strings.EqualFold(k.Name, name) && k.Value != nil {
			return k.Value.Value
		}
	}
	return ""
}

// KeyMap returns the value keys
func (n *InstanceName) KeyMap() map[string]string {
	m := map[string]string{}
	for _, k := range n.Keys {
		if k.Value != nil {
			m[k.Name] = k.Value.Value
		}
	}
	return m
}

// String returns the object path in WBEM URI form
func (n *InstanceName) String() string {
	parts := make([]string, 0, len(n.Keys))
	for _, k := range n.Keys {
		if k.Value != nil {
			parts = append(parts, fmt.Sprintf("%s=%q", k.Name, k.Value.Value))
		}
	}
	return n.ClassName + "." + strings.Join(parts, ",")
}

// Instance is a CIM instance
type Instance struct {
	ClassName  string          `xml:"CLASSNAME,attr"`
	Properties []Property      `xml:"PROPERTY"`
	Arrays     []PropertyArray `xml:"PROPERTY.ARRAY"`
	Refs       []PropertyRef   `xml:"PROPERTY.REFERENCE"`
	// Path is set for instances returned by EnumerateInstances
	Path *InstanceName `xml:"-"`
}

// Property is a scalar property
type Property struct {
	Name  string  `xml:"NAME,attr"`
	Type  string  `xml:"TYPE,attr,omitempty"`
	Value *string `xml:"VALUE,omitempty"`
}

// PropertyArray is an array property
type PropertyArray struct {
	Name   string      `xml:"NAME,attr"`
	Type   string      `xml:"TYPE,attr,omitempty"`
	Values *ValueArray `xml:"VALUE.ARRAY,omitempty"`
}

// PropertyRef is a reference property
type PropertyRef struct {
	Name string          `xml:"NAME,attr"`
	Ref  *ValueReference `xml:"VALUE.REFERENCE,omitempty"`
}

// Prop returns a scalar property or the empty string
func (i *Instance) Prop(name string) string {
	for _, p := range i.Properties {
		if p.Name == name && p.Value != nil {
			return *p.Value
		}
	}
	return ""
}

// Uint returns a numeric property or 0
func (i *Instance) Uint(name string) uint64 {
	n, _ := strconv.ParseUint(i.Prop(name), 10, 64)
	return n
}

// Array returns an array property
func (i *Instance) Array(name string) []string {
	for _, a := range i.Arrays {
		if a.Name == name && a.Values != nil {
			return a.Values.Values
		}
	}
	return nil
}

// Ref returns a reference property
func (i *Instance) Ref(name string) *InstanceName {
	for _, r := range i.Refs {
		if r.Name == name {
			return r.Ref.Name()
		}
	}
	return nil
}

// NamedInstance is an instance with its name
type NamedInstance struct {
	Name     *InstanceName `xml:"INSTANCENAME"`
	Instance *Instance     `xml:"INSTANCE"`
}

// Error is a CIM error
type Error struct {
	Code        int    `xml:"CODE,attr"`
	Description string `xml:"DESCRIPTION,attr,omitempty"`
}

// IMethodResponse is the response of an intrinsic method
type IMethodResponse struct {
	Name   string        `xml:"NAME,attr"`
	Error  *Error        `xml:"ERROR,omitempty"`
	Return *IReturnValue `xml:"IRETURNVALUE,omitempty"`
}

// IReturnValue is the result of an intrinsic method
type IReturnValue struct {
	NamedInstances []NamedInstance `xml:"VALUE.NAMEDINSTANCE"`
	InstanceNames  []*InstanceName `xml:"INSTANCENAME"`
	Instances      []*Instance     `xml:"INSTANCE"`
}

// MethodResponse is the response of an extrinsic method
type MethodResponse struct {
	Name   string       `xml:"NAME,attr"`
	Error  *Error       `xml:"ERROR,omitempty"`
	Return *ReturnValue `xml:"RETURNVALUE,omitempty"`
	Params []ParamValue `xml:"PARAMVALUE"`
}

// ReturnValue is the return code of an extrinsic method
type ReturnValue struct {
	Type  string `xml:"PARAMTYPE,attr,omitempty"`
	Value string `xml:"VALUE"`
}

// MethodResult is the decoded result of InvokeMethod
type MethodResult struct {
	RC     uint32
	Params []ParamValue
}

// Ref returns a reference output parameter
func (mr *MethodResult) Ref(name string) *InstanceName {
	for _, p := range mr.Params {
		if p.Name == name {
			return p.Ref.Name()
		}
	}
	return nil
}

// StringParam returns a string parameter
func StringParam(name, v string) ParamValue {
	return ParamValue{Name: name, Type: "string", Value: &v}
}

// UintParam returns a numeric parameter of the given CIM type, such as uint16
func UintParam(name, typ string, v uint64) ParamValue {
	s := strconv.FormatUint(v, 10)
	return ParamValue{Name: name, Type: typ, Value: &s}
}

// ArrayParam returns an array parameter
func ArrayParam(name, typ string, v ...string) ParamValue {
	return ParamValue{Name: name, Type: typ, Array: &ValueArray{Values: v}}
}

// RefParam returns a reference parameter
func RefParam(name string, n *InstanceName) ParamValue {
	return ParamValue{Name: name, Type: "reference", Ref: &ValueReference{InstanceName: n}}
}

// CIMError converts a CIM error
func CIMError(op string, e *Error) error {
	code := driver.CodeBackendAPI
	switch e.Code {
	case CIMErrAccessDenied:
		code = driver.CodeAuth
	case CIMErrInvalidParameter:
		code = driver.CodeInvalidInput
	case CIMErrNotFound:
		code = driver.CodeNotFound
	case CIMErrInvalidClass, CIMErrNotSupported:
		code = driver.CodeNotSupported
	}
	msg := cimErrNames[e.Code]
	if msg == "" {
		msg = "CIM error"
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return &driver.Error{Code: code, Op: op, VendorCode: strconv.Itoa(e.Code), Message: msg}
}

// CIMClient is a CIM-XML client
type CIMClient struct {
	Log       *logging.Logger
	Namespace string
	rc        *rest.Client

	mux   sync.Mutex
	msgID int
}

// NewCIMClient returns a client using HTTP basic authentication
func NewCIMClient(rc *rest.Client, namespace, user, password string, log *logging.Logger) *CIMClient {
	rc.SetHeader("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+password)))
	return &CIMClient{Log: log, Namespace: namespace, rc: rc}
}

func (c *CIMClient) nsPath() LocalNamespacePath {
	p := LocalNamespacePath{}
	for _, n := range strings.Split(c.Namespace, "/") {
		p.Namespaces = append(p.Namespaces, Namespace{Name: n})
	}
	return p
}

func (c *CIMClient) do(ctx context.Context, method, object string, req *SimpleReq) (*SimpleRsp, error) {
	c.mux.Lock()
	c.msgID++
	id := c.msgID
	c.mux.Unlock()
	doc := &CIM{CIMVersion: "2.0", DTDVersion: "2.0", Message: Message{ID: strconv.Itoa(id), ProtocolVersion: "1.0", Req: req}}
	b, err := xml.Marshal(doc)
	if err != nil {
		return nil, driver.WrapError(driver.CodeInvalidInput, method, err)
	}
	resp, err := c.rc.Do(ctx, &rest.Request{
		Method: "POST",
		Path:   CIMPath,
		Header: http.Header{
			"Cimoperation": {"MethodCall"},
			"Cimmethod":    {method},
			"Cimobject":    {object},
		},
		Body:        append([]byte(xml.Header), b...),
		ContentType: `application/xml; charset="utf-8"`,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, rest.StatusError(method, resp)
	}
	res := &CIM{}
	if err = xml.Unmarshal(resp.Body, res); err != nil {
		return nil, driver.WrapError(driver.CodeBackendAPI, method, fmt.Errorf("invalid response: %w", err))
	}
	if res.Message.Rsp == nil {
		return nil, driver.NewError(driver.CodeBackendAPI, method, "response contains no SIMPLERSP")
	}
	return res.Message.Rsp, nil
}

func (c *CIMClient) imethod(ctx context.Context, method string, params ...IParamValue) (*IReturnValue, error) {
	rsp, err := c.do(ctx, method, c.Namespace, &SimpleReq{IMethodCall: &IMethodCall{Name: method, Path: c.nsPath(), Params: params}})
	if err != nil {
		return nil, err
	}
	ir := rsp.IMethodResponse
	if ir == nil {
		return nil, driver.NewError(driver.CodeBackendAPI, method, "response contains no IMETHODRESPONSE")
	}
	if ir.Error != nil {
		return nil, CIMError(method, ir.Error)
	}
	if ir.Return == nil {
		return &IReturnValue{}, nil
	}
	return ir.Return, nil
}

// EnumerateInstances returns the instances of a class with their names
func (c *CIMClient) EnumerateInstances(ctx context.Context, class string) ([]*Instance, error) {
	rv, err := c.imethod(ctx, "EnumerateInstances", IParamValue{Name: "ClassName", ClassName: &ClassName{Name: class}})
	if err != nil {
		return nil, err
	}
	res := make([]*Instance, 0, len(rv.NamedInstances))
	for _, ni := range rv.NamedInstances {
		if ni.Instance == nil {
			continue
		}
		ni.Instance.Path = ni.Name
		res = append(res, ni.Instance)
	}
	return res, nil
}

// EnumerateInstanceNames returns the instance names of a class
func (c *CIMClient) EnumerateInstanceNames(ctx context.Context, class string) ([]*InstanceName, error) {
	rv, err := c.imethod(ctx, "EnumerateInstanceNames", IParamValue{Name: "ClassName", ClassName: &ClassName{Name: class}})
	if err != nil {
		return nil, err
	}
	return rv.InstanceNames, nil
}

// GetInstance returns an instance
func (c *CIMClient) GetInstance(ctx context.Context, name *InstanceName) (*Instance, error) {
	rv, err := c.imethod(ctx, "GetInstance", IParamValue{Name: "InstanceName", InstanceName: name})
	if err != nil {
		return nil, err
	}
	if len(rv.Instances) == 0 {
		return nil, driver.NewError(driver.CodeNotFound, "GetInstance", name.String())
	}
	inst := rv.Instances[0]
	inst.Path = name
	return inst, nil
}

// InvokeMethod calls an extrinsic method of an instance
func (c *CIMClient) InvokeMethod(ctx context.Context, method string, obj *InstanceName, params ...ParamValue) (*MethodResult, error) {
	req := &SimpleReq{MethodCall: &MethodCall{
		Name:   method,
		Path:   LocalInstancePath{NamespacePath: c.nsPath(), InstanceName: obj},
		Params: params,
	}}
	rsp, err := c.do(ctx, method, c.Namespace+":"+obj.String(), req)
	if err != nil {
		return nil, err
	}
	mr := rsp.MethodResponse
	if mr == nil {
		return nil, driver.NewError(driver.CodeBackendAPI, method, "response contains no METHODRESPONSE")
	}
	if mr.Error != nil {
		return nil, CIMError(method, mr.Error)
	}
	res := &MethodResult{Params: mr.Params}
	if mr.Return != nil {
		rc, err := strconv.ParseUint(strings.TrimSpace(mr.Return.Value), 10, 32)
		if err != nil {
			return nil, driver.WrapError(driver.CodeBackendAPI, method, fmt.Errorf("invalid return value %q", mr.Return.Value))
		}
		res.RC = uint32(rc)
	}
	return res, nil
}
