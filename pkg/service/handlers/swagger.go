// Copyright 2022 The jobflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
structs referenced by the api annotations only
*/
package handlers

type ResponseStruct struct {
	Message string
	Data    interface{}
	Error   interface{}
}

type PageData struct {
	Total int64
	List  interface{}
	Page  int64
	Size  int64
}
