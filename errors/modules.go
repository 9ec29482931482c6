/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package errors

// Each package of this module reserves a range of 50 codes starting at its
// MinPkg constant, mirroring the allocation scheme this package was adapted
// from. A package registers its own messages with RegisterIdFctMessage at
// init time using its reserved range.
const (
	MinPkgNetwork       = 100
	MinPkgSocket        = 150
	MinPkgSocketConfig  = 200
	MinPkgSocketClient  = 250
	MinPkgSocketServer  = 300
	MinPkgRunner        = 350
	MinPkgRemote        = 400
	MinPkgMessage       = 450
	MinPkgWire          = 500
	MinPkgTransport     = 550
	MinPkgConn          = 600
	MinPkgEndpoint      = 650
	MinPkgNetClient     = 700
	MinPkgNetServer     = 750
	MinPkgAppConfig     = 800
	MinPkgMetrics       = 850

	MinAvailable = 1000
)
